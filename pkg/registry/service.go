package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/casaflow/devicetrust/pkg/docstore"
	"github.com/casaflow/devicetrust/pkg/fingerprint"
)

// Service maintains the per-account device registry. Every mutation is a
// read-modify-write rewrite of the whole device list; concurrent writers can
// clobber each other, which is accepted because device churn is low-frequency
// human-triggered activity.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

// NewService creates a device registry service over the given store
func NewService(store docstore.Store) *Service {
	return &Service{
		store: store,
		now:   time.Now,
	}
}

// WithClock overrides the service clock. Used in tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetUserDevices returns the account's known devices. Any failure, including
// a missing document or denied permission, yields an empty list.
func (s *Service) GetUserDevices(ctx context.Context, userID string) []Record {
	doc, err := s.load(ctx, userID)
	if err != nil {
		if !docstore.IsNotFound(err) {
			slog.Warn("Failed to load device registry", "userId", userID, "error", err)
		}
		return []Record{}
	}
	return doc.Devices
}

// RegisterDevice upserts the record for the fingerprint's device id: an
// existing record gets its login count bumped and lastUsed refreshed, an
// unknown device is appended.
func (s *Service) RegisterDevice(ctx context.Context, userID string, fp *fingerprint.Fingerprint, isActive bool) Result {
	if fp == nil || fp.DeviceID == "" {
		return Result{Error: fmt.Errorf("fingerprint with device id required")}
	}

	now := s.now()
	doc, err := s.load(ctx, userID)
	if err != nil {
		if !docstore.IsNotFound(err) {
			return Result{Error: fmt.Errorf("failed to load device registry: %w", err)}
		}
		doc = Document{UserID: userID, CreatedAt: now}
	}

	found := false
	for i := range doc.Devices {
		if doc.Devices[i].DeviceID == fp.DeviceID {
			doc.Devices[i].IsActive = isActive
			doc.Devices[i].LastUsed = now
			doc.Devices[i].LoginCount++
			if isActive {
				doc.Devices[i].DeactivatedAt = nil
			}
			found = true
			break
		}
	}
	if !found {
		doc.Devices = append(doc.Devices, Record{
			DeviceID:     fp.DeviceID,
			UserID:       userID,
			IsActive:     isActive,
			RegisteredAt: now,
			LastUsed:     now,
			LoginCount:   1,
		})
	}

	if err := s.save(ctx, userID, doc); err != nil {
		return Result{Error: fmt.Errorf("failed to save device registry: %w", err)}
	}

	slog.Info("Device registered", "userId", userID, "deviceId", fp.DeviceID,
		"isActive", isActive, "known", found)
	return Result{Success: true}
}

// DeactivateOtherDevices marks every record except keepDeviceID inactive and
// stamps deactivatedAt. This is the enforcement point of the single-active-
// device policy; it is eventually consistent, not transactional.
func (s *Service) DeactivateOtherDevices(ctx context.Context, userID, keepDeviceID string) Result {
	return s.deactivate(ctx, userID, func(r Record) bool {
		return r.DeviceID != keepDeviceID
	})
}

// DeactivateSpecificDevice marks exactly one record inactive. Used to
// resolve cross-account conflicts.
func (s *Service) DeactivateSpecificDevice(ctx context.Context, userID, deviceID string) Result {
	return s.deactivate(ctx, userID, func(r Record) bool {
		return r.DeviceID == deviceID
	})
}

func (s *Service) deactivate(ctx context.Context, userID string, match func(Record) bool) Result {
	doc, err := s.load(ctx, userID)
	if err != nil {
		if docstore.IsNotFound(err) {
			// Nothing to deactivate.
			return Result{Success: true}
		}
		return Result{Error: fmt.Errorf("failed to load device registry: %w", err)}
	}

	now := s.now()
	changed := 0
	for i := range doc.Devices {
		if doc.Devices[i].IsActive && match(doc.Devices[i]) {
			doc.Devices[i].IsActive = false
			doc.Devices[i].DeactivatedAt = &now
			changed++
		}
	}
	if changed == 0 {
		return Result{Success: true}
	}

	if err := s.save(ctx, userID, doc); err != nil {
		return Result{Error: fmt.Errorf("failed to save device registry: %w", err)}
	}

	slog.Info("Devices deactivated", "userId", userID, "count", changed)
	return Result{Success: true}
}

// MarkLogout stamps lastLogout on the device record and clears its active
// flag. Called on explicit sign-out.
func (s *Service) MarkLogout(ctx context.Context, userID, deviceID string) Result {
	doc, err := s.load(ctx, userID)
	if err != nil {
		if docstore.IsNotFound(err) {
			return Result{Success: true}
		}
		return Result{Error: fmt.Errorf("failed to load device registry: %w", err)}
	}

	now := s.now()
	changed := false
	for i := range doc.Devices {
		if doc.Devices[i].DeviceID == deviceID {
			doc.Devices[i].LastLogout = &now
			if doc.Devices[i].IsActive {
				doc.Devices[i].IsActive = false
				doc.Devices[i].DeactivatedAt = &now
			}
			changed = true
			break
		}
	}
	if !changed {
		return Result{Success: true}
	}

	if err := s.save(ctx, userID, doc); err != nil {
		return Result{Error: fmt.Errorf("failed to save device registry: %w", err)}
	}
	return Result{Success: true}
}

// Watch exposes the registry document's live updates as a typed stream.
// Unparseable updates are skipped.
func (s *Service) Watch(ctx context.Context, userID string) (<-chan Document, func(), error) {
	raw, cancel, err := s.store.Watch(ctx, docstore.CollectionUserDevices, userID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Document, 1)
	go func() {
		defer close(out)
		for data := range raw {
			var doc Document
			if err := json.Unmarshal(data, &doc); err != nil {
				slog.Warn("Skipping unreadable registry update", "userId", userID, "error", err)
				continue
			}
			select {
			case out <- doc:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}

func (s *Service) load(ctx context.Context, userID string) (Document, error) {
	data, err := s.store.Get(ctx, docstore.CollectionUserDevices, userID)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("unreadable registry document: %w", err)
	}
	return doc, nil
}

func (s *Service) save(ctx context.Context, userID string, doc Document) error {
	doc.UserID = userID
	doc.LastUpdated = s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.LastUpdated
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal registry document: %w", err)
	}
	return s.store.Set(ctx, docstore.CollectionUserDevices, userID, data)
}
