package bus

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// startSessionRequest is the JSON body of POST /api/v1/sessions.
type startSessionRequest struct {
	Config string   `json:"config" validate:"required"`
	Flags  []string `json:"flags,omitempty"`
}

// setConfigRequest is the JSON body of PUT /api/v1/sessions/{id}/config.
type setConfigRequest struct {
	Update     bool              `json:"update"`
	Temporary  bool              `json:"temporary"`
	Properties map[string]string `json:"properties"`
}

// syncRequest is the JSON body of POST /api/v1/sessions/{id}/sync.
type syncRequest struct {
	Modes map[string]string `json:"modes,omitempty"`
}

// executeRequest is the JSON body of POST /api/v1/sessions/{id}/execute.
type executeRequest struct {
	Argv []string `json:"argv" validate:"required,min=1"`
	Envp []string `json:"envp,omitempty"`
}

// connectRequest is the JSON body of POST /api/v1/connect.
type connectRequest struct {
	Peer        string            `json:"peer" validate:"required"`
	MustAuth    bool              `json:"mustAuth"`
	SessionOpts map[string]string `json:"sessionOpts,omitempty"`
}

func decodeAndValidate(dst any, decode func(any) error) error {
	if err := decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}
