package handler

import (
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-ams/internal/lifecycle"
	"github.com/bitfantasy/nimo-ams/internal/model/entity"
	"github.com/bitfantasy/nimo-ams/internal/repository"
	"github.com/bitfantasy/nimo-ams/internal/service"
	"github.com/bitfantasy/nimo-ams/internal/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupLifecycleRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	assetRepo := repository.NewAssetRepository(db)
	approvalSvc := service.NewApprovalService(repository.NewApprovalRepository(db), logger)
	lifecycleSvc := service.NewLifecycleService(assetRepo, approvalSvc, nil, logger)
	approvalSvc.RegisterExecutor(entity.ResourceTypeAssetTransition, lifecycleSvc.ExecuteApproved)

	lh := NewLifecycleHandler(lifecycleSvc)
	ah := NewApprovalHandler(approvalSvc)

	r := testutil.SetupRouter()
	api := testutil.AuthGroup(r, "/api/v1")
	api.GET("/lifecycle/states", lh.ListStates)
	api.GET("/assets/:id/status", lh.GetStatus)
	api.GET("/assets/:id/transitions", lh.ListTransitions)
	api.POST("/assets/:id/transitions", lh.RequestTransition)
	api.GET("/assets/:id/history", lh.History)
	api.POST("/approvals/:id/approve", ah.Approve)
	api.POST("/approvals/:id/reject", ah.Reject)

	return r, db
}

func fetchAssetState(t *testing.T, r *gin.Engine, token string) string {
	t.Helper()
	w := testutil.DoRequest(r, http.MethodGet, "/api/v1/assets/asset-1/status", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("get status: %d, body %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	return data["lifecycle_state"].(map[string]interface{})["value"].(string)
}

func TestLifecycleEndpointsRequireAuth(t *testing.T) {
	r, _ := setupLifecycleRouter(t)

	w := testutil.DoRequest(r, http.MethodGet, "/api/v1/lifecycle/states", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40100 {
		t.Fatalf("code = %v, want 40100", resp["code"])
	}
}

func TestGetStatusUnknownAsset(t *testing.T) {
	r, _ := setupLifecycleRouter(t)

	w := testutil.DoRequest(r, http.MethodGet, "/api/v1/assets/missing/status", nil, testutil.AdminToken())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40400 {
		t.Fatalf("code = %v, want 40400", resp["code"])
	}
}

func TestTransitionApprovalFlowOverHTTP(t *testing.T) {
	r, db := setupLifecycleRouter(t)
	testutil.SeedTestAsset(t, db, "asset-1", lifecycle.StateInInventory)

	supervisor := testutil.GenerateTestToken("sup-1", "Supervisor", "sup@test.com", entity.RoleLevelSupervisor)
	manager := testutil.GenerateTestToken("mgr-1", "Manager", "mgr@test.com", entity.RoleLevelManager)

	// 库存转改造需要审批，请求返回 201 和审批单号
	w := testutil.DoRequest(r, http.MethodPost, "/api/v1/assets/asset-1/transitions",
		gin.H{"target_state": lifecycle.StateUnderConversion, "reason": "rebuild as test rig"}, supervisor)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	if data["executed"].(bool) {
		t.Fatal("approval-gated transition must not execute immediately")
	}
	approvalID := data["approval_id"].(string)
	if approvalID == "" {
		t.Fatal("approval id missing")
	}

	// 审批前状态不变
	if state := fetchAssetState(t, r, supervisor); state != lifecycle.StateInInventory {
		t.Fatalf("state = %s, want in_inventory before approval", state)
	}

	// 主管批不了经理级的审批
	w = testutil.DoRequest(r, http.MethodPost, "/api/v1/approvals/"+approvalID+"/approve",
		gin.H{"notes": "ok"}, supervisor)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	w = testutil.DoRequest(r, http.MethodPost, "/api/v1/approvals/"+approvalID+"/approve",
		gin.H{"notes": "approved"}, manager)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}

	if state := fetchAssetState(t, r, supervisor); state != lifecycle.StateUnderConversion {
		t.Fatalf("state = %s, want under_conversion after approval", state)
	}

	// 重复批准返回冲突
	w = testutil.DoRequest(r, http.MethodPost, "/api/v1/approvals/"+approvalID+"/approve",
		gin.H{"notes": "again"}, manager)
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	resp = testutil.ParseResponse(w)
	if resp["code"].(float64) != 40900 {
		t.Fatalf("code = %v, want 40900", resp["code"])
	}
}

func TestRejectRequiresNotesOverHTTP(t *testing.T) {
	r, db := setupLifecycleRouter(t)
	testutil.SeedTestAsset(t, db, "asset-1", lifecycle.StateInInventory)

	supervisor := testutil.GenerateTestToken("sup-1", "Supervisor", "sup@test.com", entity.RoleLevelSupervisor)
	w := testutil.DoRequest(r, http.MethodPost, "/api/v1/assets/asset-1/transitions",
		gin.H{"target_state": lifecycle.StateUnderConversion, "reason": "rebuild"}, supervisor)
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	approvalID := data["approval_id"].(string)

	manager := testutil.GenerateTestToken("mgr-1", "Manager", "mgr@test.com", entity.RoleLevelManager)
	w = testutil.DoRequest(r, http.MethodPost, "/api/v1/approvals/"+approvalID+"/reject", gin.H{}, manager)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing notes", w.Code)
	}

	w = testutil.DoRequest(r, http.MethodPost, "/api/v1/approvals/"+approvalID+"/reject",
		gin.H{"notes": "not justified"}, manager)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
}
