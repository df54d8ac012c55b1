package message

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"wechat-gateway/internal/common/errors"
)

const rootElement = "xml"

// element is one child of the payload root. Text keeps CDATA and character
// data exactly as sent.
type element struct {
	XMLName xml.Name
	Text    string    `xml:",chardata"`
	Nested  []element `xml:",any"`
}

type document struct {
	XMLName  xml.Name
	Children []element `xml:",any"`
}

// Decode parses a webhook body into its message variant. The kind is read
// from MsgType, and for events from Event. Unknown kinds and missing required
// fields are decode errors. Free text such as Content is returned unmodified.
func Decode(body []byte) (Message, error) {
	var doc document
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, errors.DecodeError("malformed xml payload", err)
	}
	if doc.XMLName.Local != rootElement {
		return nil, errors.DecodeError("payload root must be <"+rootElement+">", nil)
	}

	f := newFields(doc.Children)
	if err := f.require("payload", "ToUserName", "FromUserName", "CreateTime", "MsgType"); err != nil {
		return nil, err
	}
	createTime, err := f.int64("CreateTime")
	if err != nil {
		return nil, err
	}
	header := Header{
		ToUserName:   f.str("ToUserName"),
		FromUserName: f.str("FromUserName"),
		CreateTime:   createTime,
		MsgType:      Kind(f.str("MsgType")),
	}

	if header.MsgType == KindEvent {
		return decodeEvent(header, f)
	}

	msgID, err := f.int64("MsgId")
	if err != nil {
		return nil, err
	}

	switch header.MsgType {
	case KindText:
		if err := f.requireText("text message", "Content"); err != nil {
			return nil, err
		}
		return &Text{Header: header, MsgID: msgID, Content: f.text("Content")}, nil

	case KindImage:
		if err := f.require("image message", "PicUrl", "MediaId"); err != nil {
			return nil, err
		}
		return &Image{Header: header, MsgID: msgID, PicURL: f.str("PicUrl"), MediaID: f.str("MediaId")}, nil

	case KindVoice:
		if err := f.require("voice message", "MediaId", "Format"); err != nil {
			return nil, err
		}
		return &Voice{
			Header:      header,
			MsgID:       msgID,
			MediaID:     f.str("MediaId"),
			Format:      f.str("Format"),
			Recognition: f.text("Recognition"),
		}, nil

	case KindVideo, KindShortVideo:
		if err := f.require(string(header.MsgType)+" message", "MediaId", "ThumbMediaId"); err != nil {
			return nil, err
		}
		return &Video{Header: header, MsgID: msgID, MediaID: f.str("MediaId"), ThumbMediaID: f.str("ThumbMediaId")}, nil

	case KindMiniProgramPage:
		if err := f.requireText("miniprogrampage message", "Title"); err != nil {
			return nil, err
		}
		if err := f.require("miniprogrampage message", "AppId", "PagePath"); err != nil {
			return nil, err
		}
		return &MiniProgramPage{
			Header:       header,
			MsgID:        msgID,
			Title:        f.text("Title"),
			AppID:        f.str("AppId"),
			PagePath:     f.str("PagePath"),
			ThumbURL:     f.str("ThumbUrl"),
			ThumbMediaID: f.str("ThumbMediaId"),
		}, nil

	case KindLocation:
		return decodeLocation(header, msgID, f)

	case KindLink:
		if err := f.requireText("link message", "Title"); err != nil {
			return nil, err
		}
		if err := f.require("link message", "Url"); err != nil {
			return nil, err
		}
		return &Link{
			Header:      header,
			MsgID:       msgID,
			Title:       f.text("Title"),
			Description: f.text("Description"),
			URL:         f.str("Url"),
		}, nil
	}

	return nil, errors.DecodeError(fmt.Sprintf("unrecognized message kind %q", header.MsgType), nil)
}

func decodeEvent(header Header, f fields) (Message, error) {
	event := EventType(f.str("Event"))
	switch event {
	case EventSubscribe:
		return &Subscribe{Header: header, EventKey: f.str("EventKey"), Ticket: f.str("Ticket")}, nil
	case EventUnsubscribe:
		return &Unsubscribe{Header: header}, nil
	case EventScan:
		if err := f.require("SCAN event", "EventKey", "Ticket"); err != nil {
			return nil, err
		}
		return &Scan{Header: header, EventKey: f.str("EventKey"), Ticket: f.str("Ticket")}, nil
	case "":
		return nil, errors.DecodeError("event payload is missing Event", nil)
	}
	return nil, errors.DecodeError(fmt.Sprintf("unrecognized event %q", event), nil)
}

func decodeLocation(header Header, msgID int64, f fields) (Message, error) {
	if err := f.require("location message", "Location_X", "Location_Y", "Scale"); err != nil {
		return nil, err
	}
	if err := f.requireText("location message", "Label"); err != nil {
		return nil, err
	}

	x, err := f.float("Location_X")
	if err != nil {
		return nil, err
	}
	y, err := f.float("Location_Y")
	if err != nil {
		return nil, err
	}
	scale, err := f.int64("Scale")
	if err != nil {
		return nil, err
	}

	return &Location{
		Header:    header,
		MsgID:     msgID,
		LocationX: x,
		LocationY: y,
		Scale:     int(scale),
		Label:     f.text("Label"),
	}, nil
}

// fields holds the flat children of the root element. Repeated or nested
// elements read as empty.
type fields map[string]string

func newFields(children []element) fields {
	f := make(fields, len(children))
	seen := make(map[string]bool, len(children))
	for _, child := range children {
		name := child.XMLName.Local
		if seen[name] || len(child.Nested) > 0 {
			f[name] = ""
		} else {
			f[name] = child.Text
		}
		seen[name] = true
	}
	return f
}

// str reads an identifier or numeric field, ignoring surrounding whitespace
func (f fields) str(name string) string {
	return strings.TrimSpace(f[name])
}

// text reads a free-text field verbatim
func (f fields) text(name string) string {
	return f[name]
}

func (f fields) require(what string, names ...string) error {
	return f.check(what, f.str, names)
}

// requireText accepts whitespace-only values, which users can send
func (f fields) requireText(what string, names ...string) error {
	return f.check(what, f.text, names)
}

func (f fields) check(what string, read func(string) string, names []string) error {
	var missing []string
	for _, name := range names {
		if read(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return errors.DecodeError(what+" is missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// int64 parses an optional numeric field; absent reads as zero
func (f fields) int64(name string) (int64, error) {
	raw := f.str(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.DecodeError(name+" is not an integer", err)
	}
	return value, nil
}

func (f fields) float(name string) (float64, error) {
	value, err := strconv.ParseFloat(f.str(name), 64)
	if err != nil {
		return 0, errors.DecodeError(name+" is not a number", err)
	}
	return value, nil
}
