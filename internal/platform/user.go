package platform

import (
	"context"

	"wechat-gateway/internal/common/errors"
)

// Subscriber is the account-side view of a follower
type Subscriber struct {
	Subscribe      int    `json:"subscribe"`
	OpenID         string `json:"openid"`
	Nickname       string `json:"nickname,omitempty"`
	Language       string `json:"language,omitempty"`
	HeadImgURL     string `json:"headimgurl,omitempty"`
	SubscribeTime  int64  `json:"subscribe_time,omitempty"`
	UnionID        string `json:"unionid,omitempty"`
	Remark         string `json:"remark,omitempty"`
	GroupID        int    `json:"groupid,omitempty"`
	TagIDList      []int  `json:"tagid_list,omitempty"`
	SubscribeScene string `json:"subscribe_scene,omitempty"`
	QRScene        int    `json:"qr_scene,omitempty"`
	QRSceneStr     string `json:"qr_scene_str,omitempty"`
}

// IsSubscribed reports whether the user currently follows the account
func (s *Subscriber) IsSubscribed() bool {
	return s.Subscribe == 1
}

// UserInfo fetches follower details for openID
func (c *Client) UserInfo(ctx context.Context, openID string) (*Subscriber, error) {
	if openID == "" {
		return nil, errors.ValidationError("openid is required")
	}

	var subscriber Subscriber
	err := c.withCredential(ctx, func(token string) error {
		query := tokenQuery(token)
		query.Set("openid", openID)
		query.Set("lang", "zh_CN")
		return c.api.Get(ctx, "/cgi-bin/user/info", query, &subscriber)
	})
	if err != nil {
		return nil, err
	}
	return &subscriber, nil
}
