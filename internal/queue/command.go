package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// CommandTopic is the default topic and AMQP queue name for campaign commands.
const CommandTopic = "campaign_commands"

type CommandName string

const (
	CommandStart  CommandName = "start"
	CommandPause  CommandName = "pause"
	CommandResume CommandName = "resume"
	CommandCancel CommandName = "cancel"
)

// ErrInvalidCommand marks payloads that can never succeed; they are dropped rather than retried.
var ErrInvalidCommand = errors.New("invalid campaign command")

// Command asks the dispatcher to act on one campaign.
type Command struct {
	Command     CommandName `json:"command"`
	CampaignID  int         `json:"campaign_id"`
	RequestedAt time.Time   `json:"requested_at"`
	RequestID   string      `json:"request_id,omitempty"`
}

func NewCommand(name CommandName, campaignID int) Command {
	return Command{
		Command:     name,
		CampaignID:  campaignID,
		RequestedAt: time.Now().UTC(),
		RequestID:   uuid.NewString(),
	}
}

var commandSchema = gojsonschema.NewStringLoader(`{
  "type": "object",
  "required": ["command", "campaign_id"],
  "properties": {
    "command":      {"type": "string", "enum": ["start", "pause", "resume", "cancel"]},
    "campaign_id":  {"type": "integer", "minimum": 1},
    "requested_at": {"type": "string", "format": "date-time"},
    "request_id":   {"type": "string", "format": "uuid"}
  }
}`)

// DecodeCommand validates body against the command schema before unmarshalling it.
// A missing request_id is filled in so every command can be traced in logs.
func DecodeCommand(body []byte) (Command, error) {
	result, err := gojsonschema.Validate(commandSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return Command{}, fmt.Errorf("%w: %s", ErrInvalidCommand, strings.Join(errs, "; "))
	}

	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if cmd.RequestID == "" {
		cmd.RequestID = uuid.NewString()
	}
	return cmd, nil
}

// commandBytes accepts raw bodies from AMQP and typed commands from the in-memory queue.
func commandBytes(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		return b, nil
	}
}
