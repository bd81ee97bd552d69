package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"whatsapp-platform/internal/apperrors"
	"whatsapp-platform/internal/store/model"
)

// FlowHandler exposes CRUD over a tenant's chatbot flow graphs, the
// node-graph replacement for the teacher's local/remote Flow Builder
// routes in internal/api/whatsapp.go (GetLocalFlows/SaveLocalFlow).
type FlowHandler struct {
	DB *gorm.DB
}

// NewFlowHandler builds a FlowHandler.
func NewFlowHandler(db *gorm.DB) *FlowHandler {
	return &FlowHandler{DB: db}
}

type flowNodeRequest struct {
	NodeID string          `json:"node_id" binding:"required"`
	Type   string          `json:"type" binding:"required"`
	Config datatypes.JSON  `json:"config"`
}

type flowEdgeRequest struct {
	Source       string `json:"source" binding:"required"`
	SourceHandle string `json:"source_handle"`
	Target       string `json:"target" binding:"required"`
}

type flowRequest struct {
	Name              string                        `json:"name" binding:"required"`
	TriggerKeyword    string                         `json:"trigger_keyword"`
	IsDefault         bool                           `json:"is_default"`
	WorkingHours      model.WorkingHoursPolicy       `json:"working_hours"`
	SessionTimeoutSec int                            `json:"session_timeout_seconds"`
	Nodes             []flowNodeRequest              `json:"nodes"`
	Edges             []flowEdgeRequest              `json:"edges"`
}

// ListFlows returns every flow graph belonging to the caller's tenant.
func (h *FlowHandler) ListFlows(c *gin.Context) {
	var flows []model.FlowDefinition
	err := h.DB.WithContext(c.Request.Context()).
		Where("tenant_id = ?", tenantFromGin(c)).
		Order("created_at DESC").
		Find(&flows).Error
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindInternal, err, "list flows"))
		return
	}
	c.JSON(http.StatusOK, flows)
}

// GetFlow loads one flow graph, with its nodes and edges, scoped to
// the caller's tenant.
func (h *FlowHandler) GetFlow(c *gin.Context) {
	flow, err := h.loadFlow(c)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, flow)
}

// CreateFlow persists a new flow graph for the caller's tenant.
func (h *FlowHandler) CreateFlow(c *gin.Context) {
	var req flowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindValidation, err, "invalid flow payload"))
		return
	}

	flow := model.FlowDefinition{
		TenantID:          tenantFromGin(c),
		Name:              req.Name,
		TriggerKeyword:    req.TriggerKeyword,
		IsDefault:         req.IsDefault,
		WorkingHours:      datatypes.NewJSONType(req.WorkingHours),
		SessionTimeoutSec: req.SessionTimeoutSec,
		Nodes:             toFlowNodes(req.Nodes),
		Edges:             toFlowEdges(req.Edges),
	}
	if flow.SessionTimeoutSec == 0 {
		flow.SessionTimeoutSec = 900
	}

	if err := h.DB.WithContext(c.Request.Context()).Create(&flow).Error; err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindInternal, err, "create flow"))
		return
	}
	c.JSON(http.StatusCreated, flow)
}

// UpdateFlow replaces an existing flow's metadata and full node/edge
// graph — flows are edited as a whole document by the flow builder,
// not patched field-by-field.
func (h *FlowHandler) UpdateFlow(c *gin.Context) {
	flow, err := h.loadFlow(c)
	if err != nil {
		respondError(c, err)
		return
	}

	var req flowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindValidation, err, "invalid flow payload"))
		return
	}

	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("flow_id = ?", flow.ID).Delete(&model.FlowNode{}).Error; err != nil {
			return err
		}
		if err := tx.Where("flow_id = ?", flow.ID).Delete(&model.FlowEdge{}).Error; err != nil {
			return err
		}
		flow.Name = req.Name
		flow.TriggerKeyword = req.TriggerKeyword
		flow.IsDefault = req.IsDefault
		flow.WorkingHours = datatypes.NewJSONType(req.WorkingHours)
		if req.SessionTimeoutSec > 0 {
			flow.SessionTimeoutSec = req.SessionTimeoutSec
		}
		flow.Nodes = toFlowNodes(req.Nodes)
		flow.Edges = toFlowEdges(req.Edges)
		return tx.Save(flow).Error
	})
	if err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindInternal, err, "update flow"))
		return
	}
	c.JSON(http.StatusOK, flow)
}

// DeleteFlow removes a flow and its nodes/edges (cascaded via the
// model's foreign-key constraint).
func (h *FlowHandler) DeleteFlow(c *gin.Context) {
	flow, err := h.loadFlow(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).Delete(flow).Error; err != nil {
		respondError(c, apperrors.Wrap(apperrors.KindInternal, err, "delete flow"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *FlowHandler) loadFlow(c *gin.Context) (*model.FlowDefinition, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return nil, apperrors.New(apperrors.KindValidation, "invalid flow id")
	}
	var flow model.FlowDefinition
	err = h.DB.WithContext(c.Request.Context()).
		Where("tenant_id = ? AND id = ?", tenantFromGin(c), uint(id)).
		First(&flow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(apperrors.KindNotFound, err, "flow not found")
		}
		return nil, apperrors.Wrap(apperrors.KindInternal, err, "load flow")
	}
	return &flow, nil
}

func toFlowNodes(reqs []flowNodeRequest) []model.FlowNode {
	nodes := make([]model.FlowNode, 0, len(reqs))
	for _, n := range reqs {
		nodes = append(nodes, model.FlowNode{NodeID: n.NodeID, Type: n.Type, Config: n.Config})
	}
	return nodes
}

func toFlowEdges(reqs []flowEdgeRequest) []model.FlowEdge {
	edges := make([]model.FlowEdge, 0, len(reqs))
	for _, e := range reqs {
		edges = append(edges, model.FlowEdge{Source: e.Source, SourceHandle: e.SourceHandle, Target: e.Target})
	}
	return edges
}
