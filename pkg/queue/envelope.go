package queue

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope is the serialized form of a job on backends that store opaque bodies.
type Envelope struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Tube     string    `json:"tube"`
	Payload  []byte    `json:"payload"`
	Attempts int       `json:"attempts"`
	PushedAt time.Time `json:"pushed_at"`
}

func newEnvelope(tube, name string, payload []byte) (Envelope, error) {
	env := Envelope{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(name),
		Tube:     strings.TrimSpace(tube),
		Payload:  append([]byte(nil), payload...),
		PushedAt: time.Now().UTC(),
	}
	return env, env.Validate()
}

// Validate checks the fields every backend relies on.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return queueError(ErrValidation, "job id is required")
	}
	if e.Tube == "" {
		return queueError(ErrValidation, "tube is required")
	}
	if e.Name == "" {
		return queueError(ErrValidation, "job name is required")
	}
	if e.Attempts < 0 {
		return queueError(ErrValidation, "job attempts must be >= 0")
	}
	return nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	encoded, err := json.Marshal(env)
	if err != nil {
		return nil, queueError(ErrValidation, "encode job: "+err.Error())
	}
	return encoded, nil
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, queueError(ErrValidation, "decode job: "+err.Error())
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func validateTube(tube string) (string, error) {
	tube = strings.TrimSpace(tube)
	if tube == "" {
		return "", queueError(ErrValidation, "tube is required")
	}
	return tube, nil
}
