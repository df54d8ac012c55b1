package message

import (
	"encoding/xml"
	"time"

	"wechat-gateway/internal/common/errors"
)

// nowFunc stamps CreateTime on replies
var nowFunc = time.Now

// CDATA is a string written as a CDATA section
type CDATA string

// MarshalXML wraps the value in a CDATA section
func (c CDATA) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	return e.EncodeElement(struct {
		Text string `xml:",cdata"`
	}{string(c)}, start)
}

// Reply is a passive reply written in the webhook response
type Reply struct {
	XMLName      xml.Name    `xml:"xml"`
	ToUserName   CDATA       `xml:"ToUserName"`
	FromUserName CDATA       `xml:"FromUserName"`
	CreateTime   int64       `xml:"CreateTime"`
	MsgType      CDATA       `xml:"MsgType"`
	Content      CDATA       `xml:"Content,omitempty"`
	Image        *ReplyMedia `xml:"Image,omitempty"`
	TransInfo    *TransInfo  `xml:"TransInfo,omitempty"`
}

// ReplyMedia references an uploaded media file
type ReplyMedia struct {
	MediaID CDATA `xml:"MediaId"`
}

// TransInfo routes a transferred message to one customer service account
type TransInfo struct {
	KfAccount CDATA `xml:"KfAccount"`
}

func newReply(msg Message, kind Kind) *Reply {
	h := msg.Base()
	return &Reply{
		ToUserName:   CDATA(h.FromUserName),
		FromUserName: CDATA(h.ToUserName),
		CreateTime:   nowFunc().Unix(),
		MsgType:      CDATA(kind),
	}
}

// NewTextReply answers msg with a text message
func NewTextReply(msg Message, content string) *Reply {
	r := newReply(msg, KindText)
	r.Content = CDATA(content)
	return r
}

// NewImageReply answers msg with an uploaded image
func NewImageReply(msg Message, mediaID string) *Reply {
	r := newReply(msg, KindImage)
	r.Image = &ReplyMedia{MediaID: CDATA(mediaID)}
	return r
}

// NewTransferReply hands msg over to customer service. A non-empty
// kfAccount pins the conversation to that account.
func NewTransferReply(msg Message, kfAccount string) *Reply {
	r := newReply(msg, KindTransfer)
	if kfAccount != "" {
		r.TransInfo = &TransInfo{KfAccount: CDATA(kfAccount)}
	}
	return r
}

// Encode serializes a reply with the schema Decode reads. A text reply
// without content is rejected, the platform would drop it.
func Encode(r *Reply) ([]byte, error) {
	if r == nil {
		return nil, errors.ValidationError("reply is nil")
	}
	if r.MsgType == CDATA(KindText) && r.Content == "" {
		return nil, errors.ValidationError("text reply has no content")
	}
	data, err := xml.Marshal(r)
	if err != nil {
		return nil, errors.InternalError("encode reply", err)
	}
	return data, nil
}
