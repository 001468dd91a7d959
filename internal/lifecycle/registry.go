// Package lifecycle 定义资产生命周期状态与流转规则的静态注册表。
// 进程启动时定型，之后只读；生命周期引擎与查询接口共用这一份图，
// 避免校验逻辑各写一套。
package lifecycle

import (
	"errors"
	"fmt"
)

// ErrUnknownTransition 状态图中不存在该边
var ErrUnknownTransition = errors.New("unknown transition")

// 生命周期状态值
const (
	StatePlanning         = "planning"
	StateProcurement      = "procurement"
	StateInInventory      = "in_inventory"
	StateDeployed         = "deployed"
	StateUnderMaintenance = "under_maintenance"
	StateUnderConversion  = "under_conversion"
	StateRetired          = "retired"
	StateDisposed         = "disposed"
)

// State 生命周期状态定义，Color 仅用于前端展示
type State struct {
	Value      string `json:"value"`
	Label      string `json:"label"`
	Color      string `json:"color"`
	IsTerminal bool   `json:"is_terminal"`
}

// Rule 一条流转边的规则。
// 角色级别约定 1=最高权限，caller_level ≤ 所需级别即满足。
// RequiresApproval 为真时 ApproverLevelL1/L2 是审批人的级别要求，
// RequestLevel 是允许发起的级别，两者相互独立。
type Rule struct {
	FromState        string `json:"from_state"`
	ToState          string `json:"to_state"`
	RequestLevel     int    `json:"request_level"`
	RequiresApproval bool   `json:"requires_approval"`
	ApprovalLevels   int    `json:"approval_levels"`
	ApproverLevelL1  int    `json:"approver_level_l1"`
	ApproverLevelL2  int    `json:"approver_level_l2"`
}

type transitionKey struct {
	from string
	to   string
}

var states = []State{
	{Value: StatePlanning, Label: "规划中", Color: "default"},
	{Value: StateProcurement, Label: "采购中", Color: "processing"},
	{Value: StateInInventory, Label: "库存中", Color: "cyan"},
	{Value: StateDeployed, Label: "已部署", Color: "green"},
	{Value: StateUnderMaintenance, Label: "维修中", Color: "orange"},
	{Value: StateUnderConversion, Label: "改造中", Color: "purple"},
	{Value: StateRetired, Label: "已退役", Color: "red"},
	{Value: StateDisposed, Label: "已处置", Color: "default", IsTerminal: true},
}

var rules = []Rule{
	{FromState: StatePlanning, ToState: StateProcurement, RequestLevel: 3},
	{FromState: StateProcurement, ToState: StateInInventory, RequestLevel: 3},
	{FromState: StateInInventory, ToState: StateDeployed, RequestLevel: 3},
	{FromState: StateDeployed, ToState: StateInInventory, RequestLevel: 3},
	{FromState: StateDeployed, ToState: StateUnderMaintenance, RequestLevel: 4},
	{FromState: StateUnderMaintenance, ToState: StateDeployed, RequestLevel: 4},
	{FromState: StateInInventory, ToState: StateUnderConversion, RequestLevel: 3,
		RequiresApproval: true, ApprovalLevels: 1, ApproverLevelL1: 2},
	{FromState: StateUnderConversion, ToState: StateInInventory, RequestLevel: 3},
	{FromState: StateDeployed, ToState: StateRetired, RequestLevel: 3,
		RequiresApproval: true, ApprovalLevels: 2, ApproverLevelL1: 3, ApproverLevelL2: 2},
	{FromState: StateInInventory, ToState: StateRetired, RequestLevel: 3,
		RequiresApproval: true, ApprovalLevels: 2, ApproverLevelL1: 3, ApproverLevelL2: 2},
	{FromState: StateRetired, ToState: StateDisposed, RequestLevel: 2,
		RequiresApproval: true, ApprovalLevels: 1, ApproverLevelL1: 1},
}

var (
	stateIndex = make(map[string]State, len(states))
	ruleIndex  = make(map[transitionKey]Rule, len(rules))
	outgoing   = make(map[string][]State)
)

func init() {
	for _, s := range states {
		stateIndex[s.Value] = s
	}
	for _, r := range rules {
		from, ok := stateIndex[r.FromState]
		if !ok {
			panic(fmt.Sprintf("lifecycle: rule references unknown from state %q", r.FromState))
		}
		to, ok := stateIndex[r.ToState]
		if !ok {
			panic(fmt.Sprintf("lifecycle: rule references unknown to state %q", r.ToState))
		}
		if from.IsTerminal {
			panic(fmt.Sprintf("lifecycle: terminal state %q has outgoing transition", r.FromState))
		}
		ruleIndex[transitionKey{r.FromState, r.ToState}] = r
		outgoing[r.FromState] = append(outgoing[r.FromState], to)
	}
}

// AllStates 按定义顺序返回所有状态
func AllStates() []State {
	out := make([]State, len(states))
	copy(out, states)
	return out
}

// StateByValue 按值查找状态
func StateByValue(value string) (State, bool) {
	s, ok := stateIndex[value]
	return s, ok
}

// ValidTransitions 一跳可达的状态集合
func ValidTransitions(fromState string) []State {
	src := outgoing[fromState]
	out := make([]State, len(src))
	copy(out, src)
	return out
}

// TransitionRule 查找 (from, to) 边的规则
func TransitionRule(fromState, toState string) (Rule, error) {
	r, ok := ruleIndex[transitionKey{fromState, toState}]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s -> %s", ErrUnknownTransition, fromState, toState)
	}
	return r, nil
}

// IsTerminal 状态是否为终态
func IsTerminal(state string) bool {
	s, ok := stateIndex[state]
	return ok && s.IsTerminal
}
