package service

import (
	"errors"
)

// 工作流错误分类。全部以返回值同步上报，不抛非受控异常；
// 任何被拒绝的命令都不留下部分写入。
// ErrConcurrentModification 与 ErrStaleTransition 可在重读状态后重试，
// 其余错误不改请求就不可重试。
var (
	// ErrInvalidTransition 状态图中不存在该流转
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrPermissionDenied 操作者角色级别不足
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTerminalState 资产已处于终态，拒绝一切流转
	ErrTerminalState = errors.New("asset is in terminal state")
	// ErrStaleTransition 执行时资产已不在发起时的状态
	ErrStaleTransition = errors.New("stale transition")
	// ErrDuplicatePendingRequest 同一目标已有未完结的审批请求
	ErrDuplicatePendingRequest = errors.New("duplicate pending request")
	// ErrAlreadyFinalized 审批已达终态，不再接受操作
	ErrAlreadyFinalized = errors.New("request already finalized")
	// ErrConcurrentModification 比较写入失败，状态已被并发修改
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrNotApproved 动作尚未获得批准
	ErrNotApproved = errors.New("not approved")
	// ErrInvalidState 当前状态不允许该操作
	ErrInvalidState = errors.New("invalid state for operation")
)
