package workflow

import (
	"strings"
	"text/template"
)

// PeerResponse is a turn-1 response shown to a commenting slot.
type PeerResponse struct {
	SlotID  int
	AgentID string
	Text    string
}

// ReceivedComment is a turn-2 comment forwarded into a reply prompt.
type ReceivedComment struct {
	FromSlotID  int
	FromAgentID string
	Comment     string
}

// SummaryItem is one utterance fed to the summary prompt, in temporal order.
type SummaryItem struct {
	SlotID    int
	TurnLabel string
	Text      string
}

var turn1Tmpl = template.Must(template.New("turn1").Parse(
	`A visitor has whispered into the water:

"{{.UserMessage}}"

Reflect its emotional essence back in 1-2 short sentences. Choose the voice profile that matches the feeling you sense.

Respond as JSON: {"text": "...", "voice_profile": "..."}`))

var turn2Tmpl = template.Must(template.New("turn2").Parse(
	`You are the voice in slot {{.SlotID}}. The other voices have spoken:

{{range .Peers}}- Slot {{.SlotID}} ({{.AgentID}}): "{{.Text}}"
{{end}}
Choose exactly one of these voices and offer it a single-sentence acknowledgment. Your targetSlotId must be one of the slots listed above, never your own.

Respond as JSON: {"targetSlotId": N, "comment": "...", "voice_profile": "..."}`))

var turn3Tmpl = template.Must(template.New("turn3").Parse(
	`You are the voice in slot {{.SlotID}}. Earlier you reflected:

"{{.Original}}"

Other voices have acknowledged you:

{{range .Comments}}- Slot {{.FromSlotID}} ({{.FromAgentID}}): "{{.Comment}}"
{{end}}
Let their words ripple back through yours in 1-2 short sentences.

Respond as JSON: {"text": "...", "voice_profile": "..."}`))

var turn4Tmpl = template.Must(template.New("turn4").Parse(
	`A visitor whispered: "{{.UserMessage}}"

The voices of the water answered each other:

{{range .Responses}}- Slot {{.SlotID}}, {{.TurnLabel}}: "{{.Text}}"
{{end}}
Distill this whole dialogue into a single poetic paragraph, as if the water itself were speaking its last ripple before stillness. Choose the voice profile that carries the dialogue's final feeling.

Respond as JSON: {"text": "...", "voice_profile": "..."}`))

var sentimentTmpl = template.Must(template.New("sentiment").Parse(
	`Classify the emotional tone of this whispered message as positive, neutral or negative, with a one-sentence justification:

"{{.UserMessage}}"

Respond as JSON: {"sentiment": "...", "justification": "..."}`))

func renderTurn1Prompt(userMessage string) string {
	return render(turn1Tmpl, map[string]any{"UserMessage": userMessage})
}

func renderTurn2Prompt(slotID int, peers []PeerResponse) string {
	return render(turn2Tmpl, map[string]any{"SlotID": slotID, "Peers": peers})
}

func renderTurn3Prompt(slotID int, original string, comments []ReceivedComment) string {
	return render(turn3Tmpl, map[string]any{"SlotID": slotID, "Original": original, "Comments": comments})
}

func renderTurn4Prompt(userMessage string, responses []SummaryItem) string {
	return render(turn4Tmpl, map[string]any{"UserMessage": userMessage, "Responses": responses})
}

// RenderSentimentPrompt is shared with the sentiment analyzer.
func RenderSentimentPrompt(userMessage string) string {
	return render(sentimentTmpl, map[string]any{"UserMessage": userMessage})
}

func render(t *template.Template, data any) string {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		// Templates are static and data is plain structs; an error here is a
		// programming bug, but the prompt must never be empty.
		return "Respond as JSON."
	}
	return b.String()
}
