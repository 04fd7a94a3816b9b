package domain

// EnqueueRequest asks for a candidate to be queued for one user
type EnqueueRequest struct {
	UserID   string         `json:"user_id" binding:"required"`
	Channel  Channel        `json:"channel" binding:"required,oneof=dm group mention event prayer"`
	Priority Priority       `json:"priority" binding:"omitempty,min=1,max=4"`
	Title    string         `json:"title" binding:"required"`
	Body     string         `json:"body"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Candidate converts the request into a normalized candidate
func (r EnqueueRequest) Candidate() Candidate {
	c := Candidate{
		Channel:  r.Channel,
		Priority: r.Priority,
		Title:    r.Title,
		Body:     r.Body,
		Metadata: r.Metadata,
	}
	c.Normalize()
	return c
}

// ListNotificationsRequest pages through a user's queued notifications
type ListNotificationsRequest struct {
	Limit      int  `form:"limit" binding:"omitempty,min=1,max=200"`
	UnsentOnly bool `form:"unsent_only"`
}

// PushSubscriptionRequest carries what the client's platform push service
// returned, together with the permission state the client observed.
type PushSubscriptionRequest struct {
	Permission Permission        `json:"permission" binding:"omitempty,oneof=granted denied default"`
	Endpoint   string            `json:"endpoint" binding:"omitempty,url"`
	Keys       PushKeys          `json:"keys"`
	DeviceInfo map[string]string `json:"device_info,omitempty"`

	// PreviousEndpoint is the endpoint this device registered before, kept
	// by the client after the browser dropped or revoked it
	PreviousEndpoint string `json:"previous_endpoint,omitempty" binding:"omitempty,url"`
}

// PushStatus reports a user's push delivery state
type PushStatus struct {
	Permission Permission `json:"permission"`
	Subscribed bool       `json:"subscribed"`
	Endpoint   string     `json:"endpoint,omitempty"`
}
