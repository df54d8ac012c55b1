package message

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wechat-gateway/internal/common/errors"
)

func payload(kind string, extra string) []byte {
	return []byte(fmt.Sprintf(`<xml>
<ToUserName><![CDATA[gh_account]]></ToUserName>
<FromUserName><![CDATA[oUser]]></FromUserName>
<CreateTime>1348831860</CreateTime>
<MsgType><![CDATA[%s]]></MsgType>
%s
</xml>`, kind, extra))
}

func fixedClock(t *testing.T, at time.Time) {
	previous := nowFunc
	nowFunc = func() time.Time { return at }
	t.Cleanup(func() { nowFunc = previous })
}

func TestDecode(t *testing.T) {
	header := func(kind Kind) Header {
		return Header{ToUserName: "gh_account", FromUserName: "oUser", CreateTime: 1348831860, MsgType: kind}
	}

	tests := []struct {
		name string
		body []byte
		want Message
	}{
		{
			name: "text",
			body: payload("text", `<Content><![CDATA[this is a test]]></Content><MsgId>1234567890123456</MsgId>`),
			want: &Text{Header: header(KindText), MsgID: 1234567890123456, Content: "this is a test"},
		},
		{
			name: "text keeps surrounding whitespace",
			body: payload("text", "<Content><![CDATA[  two leading, one trailing \n]]></Content><MsgId>2</MsgId>"),
			want: &Text{Header: header(KindText), MsgID: 2, Content: "  two leading, one trailing \n"},
		},
		{
			name: "whitespace-only text",
			body: payload("text", `<Content><![CDATA[   ]]></Content><MsgId>3</MsgId>`),
			want: &Text{Header: header(KindText), MsgID: 3, Content: "   "},
		},
		{
			name: "text split across cdata sections",
			body: payload("text", `<Content><![CDATA[a]]>&amp;<![CDATA[ b]]></Content><MsgId>4</MsgId>`),
			want: &Text{Header: header(KindText), MsgID: 4, Content: "a& b"},
		},
		{
			name: "image",
			body: payload("image", `<PicUrl><![CDATA[https://mmbiz.example.com/pic]]></PicUrl><MediaId><![CDATA[media_id]]></MediaId><MsgId>1</MsgId>`),
			want: &Image{Header: header(KindImage), MsgID: 1, PicURL: "https://mmbiz.example.com/pic", MediaID: "media_id"},
		},
		{
			name: "voice with recognition",
			body: payload("voice", `<MediaId><![CDATA[media_id]]></MediaId><Format><![CDATA[amr]]></Format><Recognition><![CDATA[hello]]></Recognition>`),
			want: &Voice{Header: header(KindVoice), MediaID: "media_id", Format: "amr", Recognition: "hello"},
		},
		{
			name: "video",
			body: payload("video", `<MediaId><![CDATA[m]]></MediaId><ThumbMediaId><![CDATA[thumb]]></ThumbMediaId>`),
			want: &Video{Header: header(KindVideo), MediaID: "m", ThumbMediaID: "thumb"},
		},
		{
			name: "shortvideo",
			body: payload("shortvideo", `<MediaId><![CDATA[m]]></MediaId><ThumbMediaId><![CDATA[thumb]]></ThumbMediaId>`),
			want: &Video{Header: header(KindShortVideo), MediaID: "m", ThumbMediaID: "thumb"},
		},
		{
			name: "miniprogrampage",
			body: payload("miniprogrampage", `<Title><![CDATA[Shop]]></Title><AppId><![CDATA[wxmini]]></AppId><PagePath><![CDATA[pages/index]]></PagePath><ThumbUrl><![CDATA[https://t]]></ThumbUrl>`),
			want: &MiniProgramPage{Header: header(KindMiniProgramPage), Title: "Shop", AppID: "wxmini", PagePath: "pages/index", ThumbURL: "https://t"},
		},
		{
			name: "location",
			body: payload("location", `<Location_X>23.134521</Location_X><Location_Y>113.358803</Location_Y><Scale>20</Scale><Label><![CDATA[somewhere]]></Label><MsgId>7</MsgId>`),
			want: &Location{Header: header(KindLocation), MsgID: 7, LocationX: 23.134521, LocationY: 113.358803, Scale: 20, Label: "somewhere"},
		},
		{
			name: "link",
			body: payload("link", `<Title><![CDATA[Read me]]></Title><Description><![CDATA[desc]]></Description><Url><![CDATA[https://example.com/a]]></Url>`),
			want: &Link{Header: header(KindLink), Title: "Read me", Description: "desc", URL: "https://example.com/a"},
		},
		{
			name: "subscribe",
			body: payload("event", `<Event><![CDATA[subscribe]]></Event>`),
			want: &Subscribe{Header: header(KindEvent)},
		},
		{
			name: "subscribe from qr code",
			body: payload("event", `<Event><![CDATA[subscribe]]></Event><EventKey><![CDATA[qrscene_123]]></EventKey><Ticket><![CDATA[TICKET]]></Ticket>`),
			want: &Subscribe{Header: header(KindEvent), EventKey: "qrscene_123", Ticket: "TICKET"},
		},
		{
			name: "unsubscribe",
			body: payload("event", `<Event><![CDATA[unsubscribe]]></Event>`),
			want: &Unsubscribe{Header: header(KindEvent)},
		},
		{
			name: "scan",
			body: payload("event", `<Event><![CDATA[SCAN]]></Event><EventKey><![CDATA[123]]></EventKey><Ticket><![CDATA[TICKET]]></Ticket>`),
			want: &Scan{Header: header(KindEvent), EventKey: "123", Ticket: "TICKET"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "oUser", got.Base().FromUserName)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not xml", []byte(`{"MsgType":"text"}`)},
		{"empty body", []byte(``)},
		{"wrong root", []byte(`<message><MsgType>text</MsgType></message>`)},
		{"missing kind", []byte(`<xml><ToUserName>a</ToUserName><FromUserName>b</FromUserName><CreateTime>1</CreateTime></xml>`)},
		{"unknown kind", payload("music", `<Content>x</Content>`)},
		{"reply-only kind", payload("transfer_customer_service", ``)},
		{"missing sender", []byte(`<xml><ToUserName>a</ToUserName><CreateTime>1</CreateTime><MsgType>text</MsgType><Content>x</Content></xml>`)},
		{"missing create time", []byte(`<xml><ToUserName>a</ToUserName><FromUserName>b</FromUserName><MsgType>text</MsgType><Content>x</Content></xml>`)},
		{"empty create time", []byte(`<xml><ToUserName>a</ToUserName><FromUserName>b</FromUserName><CreateTime> </CreateTime><MsgType>text</MsgType><Content>x</Content></xml>`)},
		{"repeated sender", []byte(`<xml><ToUserName>a</ToUserName><FromUserName>b</FromUserName><FromUserName>c</FromUserName><CreateTime>1</CreateTime><MsgType>text</MsgType><Content>x</Content></xml>`)},
		{"bad create time", []byte(`<xml><ToUserName>a</ToUserName><FromUserName>b</FromUserName><CreateTime>soon</CreateTime><MsgType>text</MsgType><Content>x</Content></xml>`)},
		{"text without content", payload("text", `<MsgId>1</MsgId>`)},
		{"text with empty content", payload("text", `<Content><![CDATA[]]></Content>`)},
		{"image without media", payload("image", `<PicUrl>u</PicUrl>`)},
		{"voice without format", payload("voice", `<MediaId>m</MediaId>`)},
		{"video without thumb", payload("video", `<MediaId>m</MediaId>`)},
		{"miniprogrampage without path", payload("miniprogrampage", `<Title>t</Title><AppId>a</AppId>`)},
		{"location without label", payload("location", `<Location_X>1</Location_X><Location_Y>2</Location_Y><Scale>3</Scale>`)},
		{"location with bad latitude", payload("location", `<Location_X>north</Location_X><Location_Y>2</Location_Y><Scale>3</Scale><Label>l</Label>`)},
		{"link without url", payload("link", `<Title>t</Title>`)},
		{"bad msg id", payload("text", `<Content>x</Content><MsgId>abc</MsgId>`)},
		{"event without type", payload("event", ``)},
		{"unknown event", payload("event", `<Event><![CDATA[LOCATION]]></Event>`)},
		{"scan without ticket", payload("event", `<Event><![CDATA[SCAN]]></Event><EventKey>1</EventKey>`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.body)
			assert.Nil(t, msg)
			assert.True(t, errors.IsType(err, errors.ErrTypeDecode), "got %v", err)
		})
	}
}

func TestNewTextReply(t *testing.T) {
	at := time.Unix(1700000000, 0)
	fixedClock(t, at)

	msg := &Text{Header: Header{ToUserName: "gh_account", FromUserName: "oUser", CreateTime: 1, MsgType: KindText}, Content: "hi"}
	reply := NewTextReply(msg, "hello")

	assert.Equal(t, CDATA("oUser"), reply.ToUserName)
	assert.Equal(t, CDATA("gh_account"), reply.FromUserName)
	assert.Equal(t, at.Unix(), reply.CreateTime)
	assert.Equal(t, CDATA(KindText), reply.MsgType)
	assert.Equal(t, CDATA("hello"), reply.Content)
}

func TestEncode(t *testing.T) {
	fixedClock(t, time.Unix(1700000000, 0))
	msg := &Subscribe{Header: Header{ToUserName: "gh_account", FromUserName: "oUser", MsgType: KindEvent}}

	data, err := Encode(NewTextReply(msg, "a < b & c"))
	require.NoError(t, err)
	assert.Equal(t,
		`<xml><ToUserName><![CDATA[oUser]]></ToUserName><FromUserName><![CDATA[gh_account]]></FromUserName>`+
			`<CreateTime>1700000000</CreateTime><MsgType><![CDATA[text]]></MsgType><Content><![CDATA[a < b & c]]></Content></xml>`,
		string(data))

	data, err = Encode(NewImageReply(msg, "MEDIA"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<MsgType><![CDATA[image]]></MsgType><Image><MediaId><![CDATA[MEDIA]]></MediaId></Image>`)
	assert.NotContains(t, string(data), "<Content>")

	data, err = Encode(NewTransferReply(msg, ""))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<MsgType><![CDATA[transfer_customer_service]]></MsgType></xml>`)

	data, err = Encode(NewTransferReply(msg, "kf2001@account"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<TransInfo><KfAccount><![CDATA[kf2001@account]]></KfAccount></TransInfo>`)

	_, err = Encode(nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = Encode(NewTextReply(msg, ""))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "a text reply needs content")
}

func TestTextReplyRoundTrip(t *testing.T) {
	inbound := []Message{
		&Text{Header: Header{ToUserName: "gh_account", FromUserName: "oUser", CreateTime: 1, MsgType: KindText}, Content: "ping"},
		&Scan{Header: Header{ToUserName: "gh_other", FromUserName: "oScanner", CreateTime: 2, MsgType: KindEvent}, EventKey: "1", Ticket: "T"},
		&Location{Header: Header{ToUserName: "gh_account", FromUserName: "oLocated", MsgType: KindLocation}},
	}

	for _, m := range inbound {
		t.Run(m.Base().FromUserName, func(t *testing.T) {
			data, err := Encode(NewTextReply(m, "x"))
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)

			text, ok := decoded.(*Text)
			require.True(t, ok, "decoded %T", decoded)
			assert.Equal(t, m.Base().FromUserName, text.ToUserName)
			assert.Equal(t, m.Base().ToUserName, text.FromUserName)
			assert.Equal(t, "x", text.Content)
			assert.Equal(t, KindText, text.MsgType)
		})
	}
}

func TestTextReplyRoundTrip_PreservesWhitespace(t *testing.T) {
	msg := &Text{Header: Header{ToUserName: "gh_account", FromUserName: "oUser", CreateTime: 1, MsgType: KindText}, Content: "ping"}

	for _, content := range []string{" x ", "\tindented\n", "   "} {
		data, err := Encode(NewTextReply(msg, content))
		require.NoError(t, err)

		decoded, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, content, decoded.(*Text).Content)
	}
}
