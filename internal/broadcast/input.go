package broadcast

import (
	"strings"

	kit "joingate/internal/transport"
)

// InputKind tells the composer what the administrator sent.
type InputKind string

const (
	InputText      InputKind = "text"
	InputPhoto     InputKind = "photo"
	InputVideo     InputKind = "video"
	InputVideoNote InputKind = "video_note"
	InputChoice    InputKind = "choice"
)

// Input is one administrator action fed to the composer.
type Input struct {
	Kind   InputKind
	Text   string // message text, or caption for media
	FileID string
	Yes    bool // InputChoice only
}

// Choice builds a yes/no answer.
func Choice(yes bool) Input { return Input{Kind: InputChoice, Yes: yes} }

// InputFromMessage maps a private message to composer input. Messages that
// are neither text nor a supported media kind return false.
func InputFromMessage(m *kit.Message) (Input, bool) {
	if m == nil {
		return Input{}, false
	}
	if m.Media != nil {
		in := Input{FileID: m.Media.FileID, Text: m.Caption}
		switch m.Media.Kind {
		case kit.MediaPhoto:
			in.Kind = InputPhoto
		case kit.MediaVideo:
			in.Kind = InputVideo
		case kit.MediaVideoNote:
			in.Kind, in.Text = InputVideoNote, ""
		default:
			return Input{}, false
		}
		return in, true
	}
	if strings.TrimSpace(m.Text) == "" {
		return Input{}, false
	}
	return Input{Kind: InputText, Text: m.Text}, true
}

func (in Input) payloadKind() (Kind, bool) {
	switch in.Kind {
	case InputText:
		return KindText, strings.TrimSpace(in.Text) != ""
	case InputPhoto:
		return KindPhoto, in.FileID != ""
	case InputVideo:
		return KindVideo, in.FileID != ""
	case InputVideoNote:
		return KindVideoNote, in.FileID != ""
	}
	return "", false
}
