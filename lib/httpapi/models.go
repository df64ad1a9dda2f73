package httpapi

import (
	"time"

	"github.com/coder/hopperapi/lib/util"
	"github.com/danielgtaylor/huma/v2"
)

type ActuationKind string

const (
	ActuationKindOpen  ActuationKind = "open"
	ActuationKindClose ActuationKind = "close"
)

var ActuationKindValues = []ActuationKind{
	ActuationKindOpen,
	ActuationKindClose,
}

func (k ActuationKind) Schema(r huma.Registry) *huma.Schema {
	return util.OpenAPISchema(r, "ActuationKind", ActuationKindValues)
}

// Hopper is a hopper as seen through the API, with its position in the ring.
type Hopper struct {
	ID    string `json:"id" doc:"Hopper id"`
	Label string `json:"label" example:"Red" doc:"Display label"`
	Color string `json:"color" example:"#ff0000" doc:"Indicator color"`
	Index int    `json:"index" doc:"Position in the ring"`
}

// RingState describes the ring as a whole.
type RingState struct {
	Size     int      `json:"size" doc:"Number of hoppers in the ring"`
	Cursor   int      `json:"cursor" doc:"Index of the selected hopper"`
	Multi    bool     `json:"multi" doc:"Whether the cursor selects every hopper"`
	Channels []int    `json:"channels" doc:"Servo channels the next open or close drives"`
	Hoppers  []Hopper `json:"hoppers" doc:"Hoppers in ring order"`
}

// StatusResponse represents the ring status
type StatusResponse struct {
	Body struct {
		RingState
		Current       *Hopper    `json:"current,omitempty" doc:"Selected hopper, absent when the ring is empty"`
		LastActuation *Actuation `json:"last_actuation,omitempty" doc:"Most recent servo write, absent when none is recorded"`
	}
}

// HoppersResponse represents the list of hoppers
type HoppersResponse struct {
	Body struct {
		Hoppers []Hopper `json:"hoppers" doc:"Hoppers in ring order"`
	}
}

type AddHopperRequestBody struct {
	ID    string `json:"id,omitempty" maxLength:"64" doc:"Hopper id, generated when empty"`
	Label string `json:"label" maxLength:"64" example:"Red" doc:"Display label"`
	Color string `json:"color,omitempty" maxLength:"32" example:"#ff0000" doc:"Indicator color"`
	Index *int   `json:"index,omitempty" doc:"Insert position, appended when absent"`
}

// AddHopperRequest represents a request to add a hopper to the ring
type AddHopperRequest struct {
	Body AddHopperRequestBody
}

// HopperResponse represents a single hopper
type HopperResponse struct {
	Body struct {
		Hopper Hopper `json:"hopper" doc:"The hopper"`
	}
}

type GetHopperRequest struct {
	ID string `path:"id" doc:"Hopper id"`
}

type RemoveHopperRequest struct {
	ID string `path:"id" doc:"Hopper id"`
}

type RemoveHopperAtRequest struct {
	Index int `path:"index" doc:"Ring position, taken modulo the ring size"`
}

// OkResponse acknowledges a request with no other result
type OkResponse struct {
	Body struct {
		Ok bool `json:"ok" doc:"Whether the request was applied"`
	}
}

type SetCursorRequest struct {
	Body struct {
		Index int `json:"index" doc:"New cursor position, taken modulo the ring size"`
	}
}

// CursorResponse represents the cursor after it moved
type CursorResponse struct {
	Body struct {
		Cursor int    `json:"cursor" doc:"Index of the selected hopper"`
		Multi  bool   `json:"multi" doc:"Whether the cursor selects every hopper"`
		Hopper Hopper `json:"hopper" doc:"Selected hopper"`
	}
}

// ActuationResponse represents a completed open or close
type ActuationResponse struct {
	Body ActuationBody
}

type Actuation struct {
	Channel  int       `json:"channel" doc:"Servo channel"`
	Position int       `json:"position" doc:"Position written"`
	Time     time.Time `json:"time" doc:"When the position was written"`
}

// ActuationsResponse represents the recent servo writes
type ActuationsResponse struct {
	Body struct {
		Actuations []Actuation `json:"actuations" doc:"Recent servo writes, oldest first"`
	}
}
