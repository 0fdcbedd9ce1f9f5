package domain

type Site struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Lead struct {
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

	// Monetary estimates in cents. Integer, never floating point.
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

// Archived reports whether the lead has been archived. A null archived_at
// means the lead is active.
func (l Lead) Archived() bool { return l.ArchivedAt != nil }

type LeadNote struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	LeadID    string `json:"lead_id"`
	ActorID   string `json:"actor_id"`
	NoteText  string `json:"note_text"`
	Pinned    bool   `json:"pinned"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type LeadEvent struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	LeadID    string `json:"lead_id"`
	ActorID   string `json:"actor_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   string `json:"payload_json"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type LeadStatusHistory struct {
	ID         string  `json:"id"`
	SiteID     string  `json:"site_id"`
	LeadID     string  `json:"lead_id"`
	FromStatus string  `json:"from_status"`
	ToStatus   string  `json:"to_status"`
	ActorID    string  `json:"actor_id,omitempty"`
	ReasonCode *string `json:"reason_code,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
}

// Job states. A job never leaves a terminal state.
const (
	JobQueued  = "queued"
	JobRunning = "running"
	JobReady   = "ready"
	JobFailed  = "failed"
)

type Job struct {
	ID        string  `json:"id"`
	SiteID    string  `json:"site_id"`
	Type      string  `json:"type"`
	State     string  `json:"state" enum:"queued,running,ready,failed"`
	Payload   string  `json:"payload_json"`
	Result    *string `json:"result_json,omitempty"`
	Attempts  int     `json:"attempts"`
	ClaimedAt *string `json:"claimed_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether the job state is final.
func (j Job) Terminal() bool { return j.State == JobReady || j.State == JobFailed }

type SavedView struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name"`
	IsPreset  bool   `json:"is_preset"`
	Filters   string `json:"filters_json"`
	Sort      string `json:"sort"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
