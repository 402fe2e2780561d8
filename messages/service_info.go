package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
)

const userIDKey = "user_id"

// ServiceInfo is the caller-defined routing metadata echoed back by the service.
// UserID is required; every other key is kept verbatim in Extra.
type ServiceInfo struct {
	UserID string
	Extra  map[string]any
}

// NewServiceInfo builds service info for userID with optional extra fields.
// A "user_id" key inside extra is ignored.
func NewServiceInfo(userID string, extra map[string]any) (ServiceInfo, error) {
	if userID == "" {
		return ServiceInfo{}, ErrMissingUserID
	}
	info := ServiceInfo{UserID: userID}
	if len(extra) > 0 {
		info.Extra = make(map[string]any, len(extra))
		for k, v := range extra {
			if k == userIDKey {
				continue
			}
			info.Extra[k] = v
		}
	}
	return info, nil
}

// Clone returns a copy of s that shares no maps or slices with it.
func (s ServiceInfo) Clone() ServiceInfo {
	out := ServiceInfo{UserID: s.UserID}
	if s.Extra != nil {
		out.Extra = cloneValue(s.Extra).(map[string]any)
	}
	return out
}

// cloneValue copies the containers produced by JSON and YAML decoding.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Get returns an extra field by key.
func (s ServiceInfo) Get(key string) (any, bool) {
	if key == userIDKey {
		return s.UserID, s.UserID != ""
	}
	v, ok := s.Extra[key]
	return v, ok
}

// MarshalJSON writes user_id alongside the extra fields as one flat object.
func (s ServiceInfo) MarshalJSON() ([]byte, error) {
	if s.UserID == "" {
		return nil, ErrMissingUserID
	}
	out := make(map[string]any, len(s.Extra)+1)
	maps.Copy(out, s.Extra)
	out[userIDKey] = s.UserID
	return json.Marshal(out)
}

// UnmarshalJSON accepts a flat object with a string or numeric user_id.
func (s *ServiceInfo) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("service_info: %w", err)
	}
	if raw == nil {
		return ErrMissingUserID
	}

	var userID string
	switch v := raw[userIDKey].(type) {
	case string:
		userID = v
	case json.Number:
		userID = v.String()
	case nil:
	default:
		return fmt.Errorf("service_info: user_id has unsupported type %T", v)
	}
	if userID == "" {
		return ErrMissingUserID
	}
	delete(raw, userIDKey)

	s.UserID = userID
	s.Extra = nil
	if len(raw) > 0 {
		s.Extra = raw
	}
	return nil
}
