package notify

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"sysaccess.org/internal/access"
)

// Template is a subject/body pair with {field} placeholders.
type Template struct {
	Subject string `yaml:"subject" json:"subject"`
	Body    string `yaml:"body" json:"body"`
}

// Settings is a key/value configuration source, e.g. the global settings table.
type Settings interface {
	Setting(ctx context.Context, key string) (string, bool, error)
}

// Setting keys read by the notifier.
const (
	SettingICTEmail    = "ict_email"
	SettingSystemEmail = "system_email"
)

// SubjectKey and BodyKey map a template to its settings keys.
func SubjectKey(template string) string { return "email_" + template + "_subject" }
func BodyKey(template string) string    { return "email_" + template + "_body" }

var defaults = map[string]Template{
	access.TemplateHODApproval: {
		Subject: "[TSC] New Approved Systems for {requester_name}",
		Body: "The following systems have been approved by HOD and are ready for ICT review:\n\n" +
			"Requester: {requester_name} ({requester_id})\nDirectorate: {directorate}\n\nSystems:\n{system_list}\n\n" +
			"Please log in to the ICT Dashboard to action these requests.",
	},
	access.TemplateHODReview: {
		Subject: "[TSC] HOD Review Complete - System Access Request",
		Body: "Dear {requester_name},\n\nYour HOD has completed the review of your system access request.\n\n" +
			"Summary:\n{summary_list}\n\nApproved systems have been forwarded to ICT for further processing.\n\n" +
			"Regards,\nTSC System Access",
	},
	access.TemplateICTApproval: {
		Subject: "[TSC] Systems Ready for Provisioning for {requester_name}",
		Body: "ICT has approved the following systems for provisioning:\n\n" +
			"Requester: {requester_name} ({requester_id})\nDirectorate: {directorate}\n\nSystems:\n{system_list}\n\n" +
			"Please log in to the System Admin Dashboard to action these requests.",
	},
	access.TemplateICTReview: {
		Subject: "[TSC] ICT Review Complete - System Access Request",
		Body: "Dear {requester_name},\n\nThe ICT Team has completed the review of your system access request.\n\n" +
			"Summary:\n{summary_list}\n\nApproved systems have been forwarded to the respective System Administrators for provisioning.\n\n" +
			"Regards,\nTSC ICT Team",
	},
	access.TemplateAccessGranted: {
		Subject: "[TSC] System Access Granted: {system_name}",
		Body: "Dear {requester_name},\n\nYour request for access to {system_name} has been APPROVED and provisioned.\n\n" +
			"Comments: {comment}\n\nYou can now access the system.\n\nRegards,\nTSC System Admin",
	},
	access.TemplateAccessRevoked: {
		Subject: "[TSC] System Access Revoked: {system_name}",
		Body:    "Dear {requester_name},\n\nYour access to {system_name} has been REVOKED.\n\nComments: {comment}\n\nRegards,\nTSC System Admin",
	},
	access.TemplateRequestRejected: {
		Subject: "[TSC] System Access Request Rejected: {system_name}",
		Body:    "Dear {requester_name},\n\nYour request for access to {system_name} has been REJECTED.\n\nReason: {comment}\n\nRegards,\nTSC System Admin",
	},
}

// Default returns the built-in template for key.
func Default(key string) (Template, bool) {
	t, ok := defaults[key]
	return t, ok
}

// DefaultSettings flattens the built-in templates into settings keys, for seeding.
func DefaultSettings() map[string]string {
	out := make(map[string]string, 2*len(defaults))
	for key, t := range defaults {
		out[SubjectKey(key)] = t.Subject
		out[BodyKey(key)] = t.Body
	}
	return out
}

// Lookup resolves a template from settings, falling back per field to the default.
func Lookup(ctx context.Context, settings Settings, key string) (Template, error) {
	t, ok := defaults[key]
	if !ok {
		t = Template{Subject: key, Body: "{summary_list}"}
	}
	if settings == nil {
		return t, nil
	}
	if v, ok, err := settings.Setting(ctx, SubjectKey(key)); err != nil {
		return t, err
	} else if ok && strings.TrimSpace(v) != "" {
		t.Subject = v
	}
	if v, ok, err := settings.Setting(ctx, BodyKey(key)); err != nil {
		return t, err
	} else if ok && strings.TrimSpace(v) != "" {
		t.Body = v
	}
	return t, nil
}

// Render substitutes {field} placeholders. Unknown placeholders are left as is.
func (t Template) Render(fields map[string]string) (subject, body string) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", fields[k])
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body)
}

// StaticSettings is an in-process Settings map.
type StaticSettings map[string]string

func (s StaticSettings) Setting(ctx context.Context, key string) (string, bool, error) {
	v, ok := s[key]
	return v, ok, nil
}

// MemorySettings is a writable in-process settings store.
type MemorySettings struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySettings() *MemorySettings {
	return &MemorySettings{values: make(map[string]string)}
}

func (m *MemorySettings) Setting(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemorySettings) PutSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type templatesFile struct {
	Settings  map[string]string   `yaml:"settings"`
	Templates map[string]Template `yaml:"templates"`
}

// LoadTemplatesFile reads a YAML file of the form
//
//	settings:
//	  ict_email: ict@example.org
//	templates:
//	  access_granted:
//	    subject: "..."
//	    body: "..."
//
// and returns it flattened into settings keys.
func LoadTemplatesFile(path string) (StaticSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f templatesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	out := StaticSettings{}
	for k, v := range f.Settings {
		out[k] = v
	}
	for key, t := range f.Templates {
		if t.Subject != "" {
			out[SubjectKey(key)] = t.Subject
		}
		if t.Body != "" {
			out[BodyKey(key)] = t.Body
		}
	}
	return out, nil
}

// Chain consults each source in order and returns the first hit.
type Chain []Settings

func (c Chain) Setting(ctx context.Context, key string) (string, bool, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		v, ok, err := s.Setting(ctx, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}
