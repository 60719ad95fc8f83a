package registry

import "time"

// Record is one known device on an account.
type Record struct {
	DeviceID      string     `json:"deviceId"`
	UserID        string     `json:"userId"`
	IsActive      bool       `json:"isActive"`
	RegisteredAt  time.Time  `json:"registeredAt"`
	LastUsed      time.Time  `json:"lastUsed"`
	LoginCount    int        `json:"loginCount"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
	LastLogout    *time.Time `json:"lastLogout,omitempty"`
}

// Document is the account-scoped device registry. Under the single-active-
// device policy at most one record has IsActive=true; the orchestrator
// enforces that, not this layer, so concurrent logins can transiently leave
// more than one active record until the watcher re-asserts the policy.
type Document struct {
	UserID      string    `json:"userId"`
	Devices     []Record  `json:"devices"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ActiveDevice returns the first active record, if any.
func (d Document) ActiveDevice() (Record, bool) {
	for _, record := range d.Devices {
		if record.IsActive {
			return record, true
		}
	}
	return Record{}, false
}

// Find returns the record for deviceID, if present.
func (d Document) Find(deviceID string) (Record, bool) {
	for _, record := range d.Devices {
		if record.DeviceID == deviceID {
			return record, true
		}
	}
	return Record{}, false
}

// Result is the non-throwing outcome shape of every registry mutation.
type Result struct {
	Success bool
	Error   error
}
