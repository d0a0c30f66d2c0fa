package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parser codes carried in payload["parser_code"].
const (
	CodeSyntax           = "syntax_error"
	CodeMissingParam     = "missing_param"
	CodeUnknownCommand   = "unknown_command"
	CodeInvalidParamType = "invalid_param_type"
)

// ParseError is a structured parse failure. It never carries the raw
// decoder message to the caller.
type ParseError struct {
	Code  string
	Field string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("parse command: %s (%s)", e.Code, e.Field)
	}
	return "parse command: " + e.Code
}

// Outcome renders the error in the uniform outcome shape.
func (e *ParseError) Outcome() Outcome {
	payload := map[string]interface{}{
		"error_type":  ErrorTypeParser,
		"parser_code": e.Code,
	}
	if e.Field != "" {
		payload["field"] = e.Field
	}
	return Outcome{Status: StatusError, Message: "Invalid command syntax", Payload: payload}
}

var (
	identRe = regexp.MustCompile(`^[a-z_]+$`)
	intRe   = regexp.MustCompile(`^-?\d+$`)
)

// IsCommand reports whether text uses the slash command syntax.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Parse reads a slash command:
//
//	/noop
//	/get_profile
//	/set <key> <value> [<key> <value> ...]
func Parse(text string) (Action, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Action{}, &ParseError{Code: CodeUnknownCommand}
	}
	parts := strings.Fields(text)
	verb := strings.TrimPrefix(parts[0], "/")
	if !identRe.MatchString(verb) {
		return Action{}, &ParseError{Code: CodeSyntax}
	}

	switch verb {
	case "noop", "get_profile":
		if len(parts) != 1 {
			return Action{}, &ParseError{Code: CodeSyntax}
		}
		return Action{ActionType: verb, Params: map[string]interface{}{}}, nil
	case "set":
		if len(parts) < 3 {
			return Action{}, &ParseError{Code: CodeMissingParam, Field: "params"}
		}
		if (len(parts)-1)%2 != 0 {
			return Action{}, &ParseError{Code: CodeSyntax}
		}
		params := make(map[string]interface{}, (len(parts)-1)/2)
		for i := 1; i < len(parts); i += 2 {
			key := parts[i]
			if !identRe.MatchString(key) {
				return Action{}, &ParseError{Code: CodeSyntax}
			}
			if _, dup := params[key]; dup {
				return Action{}, &ParseError{Code: CodeSyntax}
			}
			params[key] = parseValue(parts[i+1])
		}
		return Action{ActionType: "set_preference", Params: params}, nil
	}
	return Action{}, &ParseError{Code: CodeUnknownCommand}
}

func parseValue(token string) interface{} {
	if len(token) >= 2 && token[0] == '"' && token[len(token)-1] == '"' {
		return token[1 : len(token)-1]
	}
	if intRe.MatchString(token) {
		if n, err := strconv.Atoi(token); err == nil {
			return n
		}
	}
	return token
}

// ParseJSON reads {"action_type": "...", "params": {...}}. Numbers decode
// as json.Number.
func ParseJSON(data []byte) (Action, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return Action{}, &ParseError{Code: CodeSyntax}
	}
	return FromMap(raw)
}

// FromMap validates an already decoded action object.
func FromMap(raw map[string]interface{}) (Action, error) {
	actionType, ok := raw["action_type"].(string)
	if !ok || actionType == "" {
		return Action{}, &ParseError{Code: CodeSyntax}
	}
	var params map[string]interface{}
	switch p := raw["params"].(type) {
	case nil:
		params = map[string]interface{}{}
	case map[string]interface{}:
		params = p
	default:
		return Action{}, &ParseError{Code: CodeInvalidParamType, Field: "params"}
	}
	return Action{ActionType: actionType, Params: params}, nil
}
