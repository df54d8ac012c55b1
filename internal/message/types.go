// Package message decodes webhook payloads pushed by the platform and
// encodes the passive replies sent back in the same response.
package message

// Kind is the MsgType discriminant of a payload
type Kind string

// Kinds received from the platform
const (
	KindText            Kind = "text"
	KindImage           Kind = "image"
	KindVoice           Kind = "voice"
	KindVideo           Kind = "video"
	KindShortVideo      Kind = "shortvideo"
	KindMiniProgramPage Kind = "miniprogrampage"
	KindLocation        Kind = "location"
	KindLink            Kind = "link"
	KindEvent           Kind = "event"
)

// Kinds only valid in replies
const (
	KindMusic    Kind = "music"
	KindNews     Kind = "news"
	KindTransfer Kind = "transfer_customer_service"
)

// EventType is the Event discriminant of an event payload
type EventType string

const (
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventScan        EventType = "SCAN"
)

// Header holds the fields every payload carries
type Header struct {
	// ToUserName is the official account that received the message
	ToUserName string
	// FromUserName is the open id of the sending user
	FromUserName string
	// CreateTime is the unix time the platform created the message
	CreateTime int64
	MsgType    Kind
}

// Base returns the common header
func (h Header) Base() Header { return h }

// Message is a decoded webhook payload. The concrete type is one of the
// structs in this package.
type Message interface {
	Base() Header
	message()
}

type Text struct {
	Header
	MsgID   int64
	Content string
}

type Image struct {
	Header
	MsgID   int64
	PicURL  string
	MediaID string
}

type Voice struct {
	Header
	MsgID   int64
	MediaID string
	Format  string
	// Recognition is set when speech recognition is enabled for the account
	Recognition string
}

// Video is used for both video and shortvideo; MsgType tells them apart
type Video struct {
	Header
	MsgID        int64
	MediaID      string
	ThumbMediaID string
}

type MiniProgramPage struct {
	Header
	MsgID        int64
	Title        string
	AppID        string
	PagePath     string
	ThumbURL     string
	ThumbMediaID string
}

type Location struct {
	Header
	MsgID int64
	// LocationX is the latitude
	LocationX float64
	// LocationY is the longitude
	LocationY float64
	Scale     int
	Label     string
}

type Link struct {
	Header
	MsgID       int64
	Title       string
	Description string
	URL         string
}

// Subscribe is sent when a user follows the account, with EventKey and
// Ticket set when the follow came from a parametric QR code
type Subscribe struct {
	Header
	EventKey string
	Ticket   string
}

type Unsubscribe struct {
	Header
}

// Scan is sent when an existing follower scans a parametric QR code
type Scan struct {
	Header
	EventKey string
	Ticket   string
}

func (*Text) message()            {}
func (*Image) message()           {}
func (*Voice) message()           {}
func (*Video) message()           {}
func (*MiniProgramPage) message() {}
func (*Location) message()        {}
func (*Link) message()            {}
func (*Subscribe) message()       {}
func (*Unsubscribe) message()     {}
func (*Scan) message()            {}
