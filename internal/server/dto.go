package server

import (
	"encoding/json"

	"leadops/internal/domain"
	"leadops/internal/engine"
)

// Request payloads

type CreateSiteRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateLeadRequest struct {
	ID             *string `json:"id,omitempty"`
	Type           string  `json:"type,omitempty"`
	FullName       string  `json:"full_name"`
	Phone          string  `json:"phone,omitempty"`
	Email          string  `json:"email,omitempty"`
	Region         string  `json:"region,omitempty"`
	PriorityScore  int     `json:"priority_score,omitempty"`
	PriorityReason string  `json:"priority_reason,omitempty"`

	EstMonthlyPremiumCents *int64 `json:"estimated_monthly_premium_cents,omitempty"`
	EstCommissionCents     *int64 `json:"estimated_commission_cents,omitempty"`

	NextActionAt   string `json:"next_action_at,omitempty" format:"date-time"`
	NextActionType string `json:"next_action_type,omitempty"`
}

type UpdateLeadStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
	SubStatus       string `json:"sub_status,omitempty"`
	ReasonCode      string `json:"reason_code,omitempty"`
	NextActionAt    string `json:"next_action_at,omitempty" format:"date-time"`
	NextActionType  string `json:"next_action_type,omitempty"`
}

type CreateNoteRequest struct {
	NoteText string `json:"note_text"`
	Pinned   bool   `json:"pinned,omitempty"`
}

type StartExportRequest struct {
	Sort    string         `json:"sort,omitempty"`
	Filters leadFiltersDTO `json:"filters,omitempty"`
}

type leadFiltersDTO struct {
	Search        string   `json:"search,omitempty"`
	Status        []string `json:"status,omitempty"`
	SubStatus     []string `json:"sub_status,omitempty"`
	Type          []string `json:"type,omitempty"`
	Region        []string `json:"region,omitempty"`
	PriorityMin   *int     `json:"priority_min,omitempty"`
	PriorityMax   *int     `json:"priority_max,omitempty"`
	CreatedFrom   string   `json:"created_from,omitempty" format:"date-time"`
	CreatedTo     string   `json:"created_to,omitempty" format:"date-time"`
	NextActionDue string   `json:"next_action_due,omitempty" enum:"any,overdue,today,next_7_days"`
	Archived      string   `json:"archived,omitempty" enum:"active,only,any"`
}

// Response payloads

type SiteResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type LeadResponse struct {
	ID        string  `json:"id"`
	SiteID    string  `json:"site_id"`
	Type      string  `json:"type"`
	Status    string  `json:"status" enum:"new,contacted,qualified,quoted,won,lost,archived"`
	SubStatus *string `json:"sub_status,omitempty"`

	FullName string `json:"full_name"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
	Region   string `json:"region,omitempty"`

	PriorityScore  int    `json:"priority_score"`
	PriorityReason string `json:"priority_reason,omitempty"`

	EstMonthlyPremiumCents *int64 `json:"estimated_monthly_premium_cents,omitempty"`
	EstCommissionCents     *int64 `json:"estimated_commission_cents,omitempty"`

	LastActivityAt   *string `json:"last_activity_at,omitempty" format:"date-time"`
	LastActivityType *string `json:"last_activity_type,omitempty"`
	NextActionAt     *string `json:"next_action_at,omitempty" format:"date-time"`
	NextActionType   *string `json:"next_action_type,omitempty"`
	ArchivedAt       *string `json:"archived_at,omitempty" format:"date-time"`

	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type paginatedLeads struct {
	Items         []LeadResponse `json:"items"`
	NextCursor    string         `json:"next_cursor,omitempty"`
	FilteredCount int            `json:"filtered_count"`
}

type NoteResponse struct {
	ID        string `json:"id"`
	LeadID    string `json:"lead_id"`
	ActorID   string `json:"actor_id"`
	NoteText  string `json:"note_text"`
	Pinned    bool   `json:"pinned"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID        string         `json:"id"`
	LeadID    string         `json:"lead_id"`
	ActorID   string         `json:"actor_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type StatusHistoryResponse struct {
	ID         string  `json:"id"`
	LeadID     string  `json:"lead_id"`
	FromStatus string  `json:"from_status"`
	ToStatus   string  `json:"to_status"`
	ActorID    string  `json:"actor_id,omitempty"`
	ReasonCode *string `json:"reason_code,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

type LeadDetailResponse struct {
	Lead    LeadResponse            `json:"lead"`
	Notes   []NoteResponse          `json:"notes"`
	Events  []EventResponse         `json:"events"`
	History []StatusHistoryResponse `json:"status_history"`
}

type JobResponse struct {
	ID        string         `json:"id"`
	SiteID    string         `json:"site_id"`
	Type      string         `json:"type"`
	State     string         `json:"state" enum:"queued,running,ready,failed"`
	Attempts  int            `json:"attempts"`
	Result    map[string]any `json:"result,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
	UpdatedAt string         `json:"updated_at" format:"date-time"`
}

type SavedViewResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	IsPreset bool           `json:"is_preset"`
	Filters  map[string]any `json:"filters"`
	Sort     string         `json:"sort"`
}

// Mappers

func siteResponse(s domain.Site) SiteResponse {
	return SiteResponse{ID: s.ID, Name: s.Name, Status: s.Status, CreatedAt: s.CreatedAt}
}

func leadResponse(l domain.Lead) LeadResponse {
	return LeadResponse{
		ID:                     l.ID,
		SiteID:                 l.SiteID,
		Type:                   l.Type,
		Status:                 l.Status,
		SubStatus:              l.SubStatus,
		FullName:               l.FullName,
		Phone:                  l.Phone,
		Email:                  l.Email,
		Region:                 l.Region,
		PriorityScore:          l.PriorityScore,
		PriorityReason:         l.PriorityReason,
		EstMonthlyPremiumCents: l.EstMonthlyPremiumCents,
		EstCommissionCents:     l.EstCommissionCents,
		LastActivityAt:         l.LastActivityAt,
		LastActivityType:       l.LastActivityType,
		NextActionAt:           l.NextActionAt,
		NextActionType:         l.NextActionType,
		ArchivedAt:             l.ArchivedAt,
		Version:                l.Version,
		CreatedAt:              l.CreatedAt,
		UpdatedAt:              l.UpdatedAt,
	}
}

func mapLeads(items []domain.Lead) []LeadResponse {
	out := make([]LeadResponse, 0, len(items))
	for _, l := range items {
		out = append(out, leadResponse(l))
	}
	return out
}

func noteResponse(n domain.LeadNote) NoteResponse {
	return NoteResponse{
		ID:        n.ID,
		LeadID:    n.LeadID,
		ActorID:   n.ActorID,
		NoteText:  n.NoteText,
		Pinned:    n.Pinned,
		CreatedAt: n.CreatedAt,
	}
}

func eventResponse(ev domain.LeadEvent) EventResponse {
	var payload map[string]any
	_ = json.Unmarshal([]byte(ev.Payload), &payload)
	return EventResponse{
		ID:        ev.ID,
		LeadID:    ev.LeadID,
		ActorID:   ev.ActorID,
		EventType: ev.EventType,
		Payload:   payload,
		CreatedAt: ev.CreatedAt,
	}
}

func historyResponse(h domain.LeadStatusHistory) StatusHistoryResponse {
	return StatusHistoryResponse{
		ID:         h.ID,
		LeadID:     h.LeadID,
		FromStatus: h.FromStatus,
		ToStatus:   h.ToStatus,
		ActorID:    h.ActorID,
		ReasonCode: h.ReasonCode,
		CreatedAt:  h.CreatedAt,
	}
}

func detailResponse(d engine.LeadDetail) LeadDetailResponse {
	resp := LeadDetailResponse{
		Lead:    leadResponse(d.Lead),
		Notes:   []NoteResponse{},
		Events:  []EventResponse{},
		History: []StatusHistoryResponse{},
	}
	for _, n := range d.Notes {
		resp.Notes = append(resp.Notes, noteResponse(n))
	}
	for _, ev := range d.Events {
		resp.Events = append(resp.Events, eventResponse(ev))
	}
	for _, h := range d.History {
		resp.History = append(resp.History, historyResponse(h))
	}
	return resp
}

func jobResponse(j domain.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		SiteID:    j.SiteID,
		Type:      j.Type,
		State:     j.State,
		Attempts:  j.Attempts,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		var result map[string]any
		if err := json.Unmarshal([]byte(*j.Result), &result); err == nil {
			resp.Result = result
		}
	}
	return resp
}

func savedViewResponse(v domain.SavedView) SavedViewResponse {
	var filters map[string]any
	_ = json.Unmarshal([]byte(v.Filters), &filters)
	return SavedViewResponse{
		ID:       v.ID,
		Name:     v.Name,
		IsPreset: v.IsPreset,
		Filters:  filters,
		Sort:     v.Sort,
	}
}
