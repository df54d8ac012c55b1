package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/platform"
)

// MaintenanceOptions selects one-off account operations run instead of the server
type MaintenanceOptions struct {
	DeleteMenu bool
	ClearQuota bool
	// QRScene creates a QR code carrying this scene string
	QRScene string
	// QRExpire makes the QR code temporary, in seconds
	QRExpire int
	// UserInfo looks up a follower by open id
	UserInfo string
}

// Requested reports whether any operation was selected
func (o MaintenanceOptions) Requested() bool {
	return o.DeleteMenu || o.ClearQuota || o.QRScene != "" || o.UserInfo != ""
}

// RunMaintenance performs the selected operations in a fixed order and writes
// their results to out. It stops at the first failure.
func (app *App) RunMaintenance(ctx context.Context, opts MaintenanceOptions, out io.Writer) error {
	if opts.DeleteMenu {
		if err := app.Platform.DeleteMenu(ctx); err != nil {
			return err
		}
		app.Logger.Info("Custom menu deleted")
		fmt.Fprintln(out, "menu deleted")
	}

	if opts.ClearQuota {
		if err := app.Platform.ClearQuota(ctx); err != nil {
			return err
		}
		app.Logger.Info("API quota cleared")
		fmt.Fprintln(out, "quota cleared")
	}

	if opts.QRScene != "" {
		req := platform.TicketRequest{ActionName: platform.QRLimitStrScene, SceneStr: opts.QRScene}
		if opts.QRExpire > 0 {
			req.ActionName = platform.QRStrScene
			req.ExpireSeconds = opts.QRExpire
		}

		ticket, err := app.Platform.CreateQRTicket(ctx, req)
		if err != nil {
			return err
		}
		app.Logger.Info("QR code created",
			logging.String("action", req.ActionName),
			logging.Int("expire_seconds", ticket.ExpireSeconds),
		)
		fmt.Fprintln(out, ticket.ImageURL())
	}

	if opts.UserInfo != "" {
		subscriber, err := app.Platform.UserInfo(logging.ContextWithOpenID(ctx, opts.UserInfo), opts.UserInfo)
		if err != nil {
			return err
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(subscriber); err != nil {
			return err
		}
	}

	return nil
}
