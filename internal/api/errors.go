package api

import (
	"encoding/json"
	"strings"

	"direct-chat/internal/chaterr"
)

// serverFields maps server field names to the names the client forms use.
var serverFields = map[string]string{
	"first_name":       "firstName",
	"last_name":        "lastName",
	"email":            "email",
	"password":         "password",
	"confirm_password": "confirmPassword",
}

func clientField(name string) string {
	if mapped, ok := serverFields[name]; ok {
		return mapped
	}
	return name
}

// detailOf extracts a human readable detail from an error body.
func detailOf(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(payload.Detail) > 0 {
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			return s
		}
		return string(payload.Detail)
	}
	return payload.Error
}

type locatedError struct {
	Loc []interface{} `json:"loc"`
	Msg string        `json:"msg"`
}

// registrationErrors turns a /register error body into a validation error.
// It understands a flat detail string, a list of located errors, and a map
// of field name to message(s). It returns nil when nothing was recognised.
func registrationErrors(body []byte) *chaterr.ValidationError {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil
	}
	verr := &chaterr.ValidationError{}
	for key, raw := range fields {
		if key == "detail" {
			applyDetail(verr, raw)
			continue
		}
		if msg := firstMessage(raw); msg != "" {
			verr.Add(clientField(key), msg)
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

func applyDetail(verr *chaterr.ValidationError, raw json.RawMessage) {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		verr.Message = s
		return
	}
	var located []locatedError
	if json.Unmarshal(raw, &located) == nil {
		for _, le := range located {
			field := ""
			if n := len(le.Loc); n > 0 {
				field, _ = le.Loc[n-1].(string)
			}
			if field == "" || field == "body" {
				if verr.Message == "" {
					verr.Message = le.Msg
				}
				continue
			}
			verr.Add(clientField(field), le.Msg)
		}
		return
	}
	if msg := firstMessage(raw); msg != "" && verr.Message == "" {
		verr.Message = msg
	}
}

func firstMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}
