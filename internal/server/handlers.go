package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"pilotdeck/internal/domain"
	"pilotdeck/internal/engine"
)

func registerModes(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-modules",
		Method:      http.MethodGet,
		Path:        "/automation/modules",
		Summary:     "Module catalog",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body struct {
			Modules []domain.Module `json:"modules"`
		} `json:"body"`
	}, error) {
		out := &struct {
			Body struct {
				Modules []domain.Module `json:"modules"`
			} `json:"body"`
		}{}
		out.Body.Modules = nonNilSlice(h.e.Modules())
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-modes",
		Method:      http.MethodGet,
		Path:        "/automation/modes",
		Summary:     "Automation mode of every module",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ModesResponse `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		states, err := h.e.Modes(ctx, ws)
		if err != nil {
			return nil, handleError(err)
		}
		resp := ModesResponse{WorkspaceID: ws, Modes: make(map[string]ModeResponse, len(states))}
		for _, st := range states {
			resp.Modes[st.ModuleID] = modeResponse(st)
		}
		return &struct {
			Body ModesResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-mode",
		Method:      http.MethodPost,
		Path:        "/automation/modes/{moduleId}",
		Summary:     "Set the automation mode of a module",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ModuleID string         `path:"moduleId"`
		Body     SetModeRequest `json:"body"`
	}) (*struct {
		Body SetModeResponse `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		change, err := h.e.SetMode(ctx, ws, input.ModuleID, domain.AutomationMode(input.Body.Mode), principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if change.Changed {
			h.metrics.modeChanges.WithLabelValues(string(change.State.Mode)).Inc()
		}
		return &struct {
			Body SetModeResponse `json:"body"`
		}{Body: SetModeResponse{
			ModeResponse: modeResponse(change.State),
			From:         string(change.From),
			Changed:      change.Changed,
		}}, nil
	})
}

func registerApprovals(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/automation/approvals",
		Summary:     "List approval items",
		Description: "Newest first. status defaults to pending; use all to disable the filter.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Module   string `query:"module"`
		Status   string `query:"status"`
		Priority string `query:"priority"`
		Limit    int    `query:"limit"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedApprovals `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, badCursor(input.Cursor)
		}
		items, more, err := h.e.ListApprovals(ctx, engine.ApprovalQuery{
			WorkspaceID:     ws,
			ModuleID:        strings.TrimSpace(input.Module),
			Status:          strings.TrimSpace(input.Status),
			Priority:        strings.TrimSpace(input.Priority),
			Limit:           input.Limit,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if more && len(items) > 0 {
			last := items[len(items)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body paginatedApprovals `json:"body"`
		}{Body: paginatedApprovals{Items: mapApprovals(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-approval",
		Method:      http.MethodPost,
		Path:        "/automation/approvals",
		Summary:     "Submit a proposed action for review",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateApprovalRequest `json:"body"`
	}) (*struct {
		Status int
		Body   ApprovalResponse `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		payload, err := encodeObject(input.Body.Payload)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
		}
		opts := engine.ApprovalCreateOptions{
			WorkspaceID: ws,
			ModuleID:    input.Body.ModuleID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Payload:     payload,
			Priority:    domain.Priority(input.Body.Priority),
			Confidence:  input.Body.Confidence,
			ActorID:     principal.ActorID,
		}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		item, created, err := h.e.CreateApproval(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &struct {
			Status int
			Body   ApprovalResponse `json:"body"`
		}{Status: status, Body: approvalResponse(item)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "count-approvals",
		Method:      http.MethodGet,
		Path:        "/automation/approvals/count",
		Summary:     "Pending approval counts",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Module string `query:"module"`
	}) (*struct {
		Body domain.ApprovalCounts `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := h.e.CountApprovals(ctx, ws, strings.TrimSpace(input.Module))
		if err != nil {
			return nil, handleError(err)
		}
		if counts.ByModule == nil {
			counts.ByModule = map[string]int{}
		}
		return &struct {
			Body domain.ApprovalCounts `json:"body"`
		}{Body: counts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "batch-resolve-approvals",
		Method:      http.MethodPost,
		Path:        "/automation/approvals/batch",
		Summary:     "Resolve several approval items",
		Description: "Each id is resolved independently. Ids that fail are reported in failed.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body BatchResolveRequest `json:"body"`
	}) (*struct {
		Body domain.BatchResult `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action := domain.ResolveAction(input.Body.Action)
		res, err := h.e.ResolveApprovalBatch(ctx, ws, input.Body.IDs, action, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		for range res.Succeeded {
			h.metrics.resolved(string(action), true)
		}
		res.Succeeded = nonNilSlice(res.Succeeded)
		res.Failed = nonNilSlice(res.Failed)
		return &struct {
			Body domain.BatchResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/automation/approvals/{id}",
		Summary:     "Get an approval item",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ApprovalResponse `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := h.e.GetApproval(ctx, ws, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ApprovalResponse `json:"body"`
		}{Body: approvalResponse(item)}, nil
	})

	for _, action := range []domain.ResolveAction{domain.ActionApprove, domain.ActionReject} {
		action := action
		huma.Register(api, huma.Operation{
			OperationID: string(action) + "-approval",
			Method:      http.MethodPost,
			Path:        "/automation/approvals/{id}/" + string(action),
			Summary:     fmt.Sprintf("Resolve an approval item (%s)", action),
			Description: "Idempotent. A repeated call returns the stored item with applied=false.",
			Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body ResolutionResponse `json:"body"`
		}, error) {
			ws, principal, authErr := h.scope(ctx)
			if authErr != nil {
				return nil, authErr
			}
			res, err := h.e.ResolveApproval(ctx, ws, input.ID, action, principal.ActorID)
			if err != nil {
				return nil, handleError(err)
			}
			h.metrics.resolved(string(action), res.Applied)
			return &struct {
				Body ResolutionResponse `json:"body"`
			}{Body: ResolutionResponse{
				Item:     approvalResponse(res.Item),
				Applied:  res.Applied,
				ActionID: res.ActionID,
			}}, nil
		})
	}
}

func registerActions(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-actions",
		Method:      http.MethodGet,
		Path:        "/automation/actions",
		Summary:     "Recent action records",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Module string `query:"module"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedActions `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, badCursor(input.Cursor)
		}
		recs, more, err := h.e.ListActions(ctx, engine.ActionQuery{
			WorkspaceID:     ws,
			ModuleID:        strings.TrimSpace(input.Module),
			Status:          strings.TrimSpace(input.Status),
			Limit:           input.Limit,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		var next string
		if more && len(recs) > 0 {
			last := recs[len(recs)-1]
			next = composeCursor(last.CreatedAt, last.ID)
		}
		return &struct {
			Body paginatedActions `json:"body"`
		}{Body: paginatedActions{Items: nonNilSlice(recs), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-action",
		Method:      http.MethodPost,
		Path:        "/automation/actions",
		Summary:     "Record an executed action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body RecordActionRequest `json:"body"`
	}) (*struct {
		Status int
		Body   domain.ActionRecord `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ActionRecordOptions{
			WorkspaceID: ws,
			ModuleID:    input.Body.ModuleID,
			Description: input.Body.Description,
			Status:      domain.ActionStatus(input.Body.Status),
			DurationMs:  input.Body.DurationMs,
			Error:       input.Body.Error,
			ActorID:     principal.ActorID,
		}
		if input.Body.ID != nil {
			opts.ID = strings.TrimSpace(*input.Body.ID)
		}
		if input.Body.ApprovalID != nil {
			opts.ApprovalID = strings.TrimSpace(*input.Body.ApprovalID)
		}
		rec, err := h.e.RecordAction(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Status int
			Body   domain.ActionRecord `json:"body"`
		}{Status: http.StatusCreated, Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-action",
		Method:      http.MethodPost,
		Path:        "/automation/actions/{id}/complete",
		Summary:     "Finalize a pending action",
		Description: "Repeating the stored outcome is a no-op. A different outcome is rejected with 409.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CompleteActionRequest `json:"body"`
	}) (*struct {
		Body struct {
			Action  domain.ActionRecord `json:"action"`
			Applied bool                `json:"applied"`
		} `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec, applied, err := h.e.CompleteAction(ctx, ws, input.ID, domain.ActionStatus(input.Body.Status), input.Body.DurationMs, input.Body.Error, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Action  domain.ActionRecord `json:"action"`
				Applied bool                `json:"applied"`
			} `json:"body"`
		}{}
		out.Body.Action = rec
		out.Body.Applied = applied
		return out, nil
	})

	statsHandler := func(ctx context.Context, moduleID string) (*struct {
		Body domain.ActionStats `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := h.e.ActionStats(ctx, ws, moduleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ActionStats `json:"body"`
		}{Body: stats}, nil
	}
	huma.Register(api, huma.Operation{
		OperationID: "action-stats",
		Method:      http.MethodGet,
		Path:        "/automation/actions/stats",
		Summary:     "Action statistics across modules",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ActionStats `json:"body"`
	}, error) {
		return statsHandler(ctx, "")
	})
	huma.Register(api, huma.Operation{
		OperationID: "module-action-stats",
		Method:      http.MethodGet,
		Path:        "/automation/actions/stats/{moduleId}",
		Summary:     "Action statistics of one module",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ModuleID string `path:"moduleId"`
	}) (*struct {
		Body domain.ActionStats `json:"body"`
	}, error) {
		if _, err := h.e.Module(input.ModuleID); err != nil {
			return nil, handleError(err)
		}
		return statsHandler(ctx, input.ModuleID)
	})
}

func registerRules(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/automation/rules",
		Summary:     "List automation rules",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Module string `query:"module"`
	}) (*struct {
		Body struct {
			Items []RuleResponse `json:"items"`
		} `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rules, err := h.e.ListRules(ctx, ws, strings.TrimSpace(input.Module))
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Items []RuleResponse `json:"items"`
			} `json:"body"`
		}{}
		out.Body.Items = make([]RuleResponse, 0, len(rules))
		for _, r := range rules {
			out.Body.Items = append(out.Body.Items, ruleResponse(r))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-rule",
		Method:      http.MethodPost,
		Path:        "/automation/rules",
		Summary:     "Create an automation rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Status int
		Body   RuleResponse `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		trigger, err := encodeObject(input.Body.Trigger)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid trigger", nil)
		}
		action, err := encodeObject(input.Body.Action)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid action", nil)
		}
		rule, err := h.e.CreateRule(ctx, engine.RuleCreateOptions{
			WorkspaceID: ws,
			ModuleID:    input.Body.ModuleID,
			Name:        input.Body.Name,
			TriggerJSON: trigger,
			ActionJSON:  action,
			Enabled:     input.Body.Enabled,
			ActorID:     principal.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Status int
			Body   RuleResponse `json:"body"`
		}{Status: http.StatusCreated, Body: ruleResponse(rule)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/automation/rules/{id}",
		Summary:     "Get an automation rule",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := h.e.GetRule(ctx, ws, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rule)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPut,
		Path:        "/automation/rules/{id}",
		Summary:     "Update an automation rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body RuleResponse `json:"body"`
	}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.RuleUpdateOptions{
			Name:    input.Body.Name,
			Enabled: input.Body.Enabled,
			ActorID: principal.ActorID,
		}
		if input.Body.Trigger != nil {
			s, err := encodeObject(input.Body.Trigger)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid trigger", nil)
			}
			opts.TriggerJSON = &s
		}
		if input.Body.Action != nil {
			s, err := encodeObject(input.Body.Action)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid action", nil)
			}
			opts.ActionJSON = &s
		}
		rule, err := h.e.UpdateRule(ctx, ws, input.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RuleResponse `json:"body"`
		}{Body: ruleResponse(rule)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-rule",
		Method:        http.MethodDelete,
		Path:          "/automation/rules/{id}",
		Summary:       "Delete an automation rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		ws, principal, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteRule(ctx, ws, input.ID, principal.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/automation/events",
		Summary:     "Audit log, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Limit  int    `query:"limit"`
		Cursor int64  `query:"cursor" minimum:"0"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		ws, _, authErr := h.scope(ctx)
		if authErr != nil {
			return nil, authErr
		}
		evts, err := h.e.ListEvents(ctx, ws, strings.TrimSpace(input.Type), input.Limit, input.Cursor)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			items = append(items, eventResponse(evt))
		}
		var next string
		if n := len(evts); n > 0 && n >= effectiveLimit(input.Limit) {
			next = fmt.Sprintf("%d", evts[n-1].ID)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: items, NextCursor: next}}, nil
	})
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return engine.DefaultListLimit
	}
	if limit > engine.MaxListLimit {
		return engine.MaxListLimit
	}
	return limit
}
