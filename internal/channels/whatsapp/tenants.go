package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TenantResolver maps the receiving business phone_number_id to a tenant.
type TenantResolver struct {
	byPhoneNumberID map[string]string
	fallback        string
}

// NewTenantResolver parses a JSON object of phone_number_id to tenant id. An empty mapping is
// allowed when defaultTenant is set.
func NewTenantResolver(mappingJSON, defaultTenant string) (*TenantResolver, error) {
	r := &TenantResolver{byPhoneNumberID: map[string]string{}, fallback: strings.TrimSpace(defaultTenant)}
	if raw := strings.TrimSpace(mappingJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.byPhoneNumberID); err != nil {
			return nil, fmt.Errorf("whatsapp: parse tenant map: %w", err)
		}
	}
	return r, nil
}

// Resolve returns the tenant for phoneNumberID and whether one was found.
func (r *TenantResolver) Resolve(phoneNumberID string) (string, bool) {
	if r == nil {
		return "", false
	}
	if tenant, ok := r.byPhoneNumberID[strings.TrimSpace(phoneNumberID)]; ok && tenant != "" {
		return tenant, true
	}
	return r.fallback, r.fallback != ""
}
