// Package protocol defines the wire messages exchanged between the session
// server and its clients. Every message is a JSON object carrying a "type"
// discriminator; unknown types are dropped by both ends.
package protocol

import "encoding/json"

// Client → server action types.
const (
	TypeJoin             = "join"
	TypeColor            = "color"
	TypeReaction         = "reaction"
	TypeText             = "text"
	TypeQuestion         = "question"
	TypeFacilitatorJoin  = "facilitator-join"
	TypeFacilitatorColor = "facilitator-color"
	TypeSetMode          = "set-mode"
)

// Server → client event types. Color, reaction, text and question reuse the
// action type names in the other direction.
const (
	TypeWelcome           = "welcome"
	TypeJoined            = "joined"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
	TypeMode              = "mode"
	TypeDemoTrigger       = "demo-trigger"
	TypeRoster            = "roster"
)

// Envelope is the minimal shape every inbound message must parse to.
type Envelope struct {
	Type string `json:"type"`
}

// --- client → server actions ---

type Join struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type Color struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}

type Reaction struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type Text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type FacilitatorJoin struct {
	Type   string `json:"type"`
	Secret string `json:"secret"`
}

type FacilitatorColor struct {
	Type   string `json:"type"`
	Color  string `json:"color"`
	Secret string `json:"secret"`
}

type SetMode struct {
	Type   string `json:"type"`
	Mode   string `json:"mode"`
	Secret string `json:"secret"`
}

// --- server → client events ---

// Entry is one text or question submission as carried on the wire.
type Entry struct {
	Name  string `json:"name"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

// RosterEntry is one participant as shown in the facilitator roster.
type RosterEntry struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	ChangeCount int    `json:"changeCount"`
}

// Welcome is the full-state snapshot sent immediately on every accept, so a
// reconnecting client can reconcile by wholesale replacement.
type Welcome struct {
	Type             string         `json:"type"`
	Mode             string         `json:"mode"`
	ParticipantCount int            `json:"participantCount"`
	TotalChangeCount int            `json:"totalChangeCount"`
	SharedColor      string         `json:"sharedColor"`
	ReactionCounts   map[string]int `json:"reactionCounts"`
	TextEntries      []Entry        `json:"textEntries"`
	QuestionEntries  []Entry        `json:"questionEntries"`
	Roster           []RosterEntry  `json:"roster"`
}

type Joined struct {
	Type             string `json:"type"`
	ParticipantCount int    `json:"participantCount"`
}

type ParticipantJoined struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	Color            string `json:"color"`
	ParticipantCount int    `json:"participantCount"`
}

type ParticipantLeft struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	ParticipantCount int    `json:"participantCount"`
}

type ColorEvent struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type ReactionEvent struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type TextEvent struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

type ModeEvent struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type DemoTrigger struct {
	Type string `json:"type"`
}

type RosterEvent struct {
	Type   string        `json:"type"`
	Roster []RosterEntry `json:"roster"`
}

// Encode marshals a wire message. Marshal errors cannot happen for the types
// in this package, so the error is swallowed and a nil slice means a bug.
func Encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
