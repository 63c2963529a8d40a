package redact

import (
    "encoding/json"
    "strings"
)

// header and field names seen in Network.* and Fetch.* event params
var sensitiveKeys = []string{
    "authorization", "proxy-authorization", "cookie", "set-cookie",
    "access_token", "id_token", "refresh_token", "session", "apikey", "x-api-key", "password",
}

// RedactJSON masks sensitive fields in a JSON string best-effort.
func RedactJSON(s string) string {
    var v any
    if err := json.Unmarshal([]byte(s), &v); err != nil {
        return s
    }
    redactNode(&v)
    b, err := json.Marshal(v)
    if err != nil { return s }
    return string(b)
}

// RedactRaw is RedactJSON for raw protocol params. Empty input is returned as is.
func RedactRaw(raw json.RawMessage) json.RawMessage {
    if len(raw) == 0 { return raw }
    return json.RawMessage(RedactJSON(string(raw)))
}

func redactNode(n *any) {
    switch t := (*n).(type) {
    case map[string]any:
        for k, v := range t {
            if isSensitiveKey(k) {
                t[k] = "***"
                continue
            }
            vv := any(v)
            redactNode(&vv)
            t[k] = vv
        }
    case []any:
        for i := range t {
            vv := any(t[i])
            redactNode(&vv)
            t[i] = vv
        }
    }
}

func isSensitiveKey(k string) bool {
    k = strings.ToLower(k)
    for _, s := range sensitiveKeys {
        if k == s { return true }
    }
    return false
}
