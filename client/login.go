package client

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/go-faster/errors"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
)

// login pairs a new device, by phone code when configured and by QR code otherwise.
func (c *Client) login(ctx context.Context) error {
	logger := log.FromContext(ctx)
	if c.opts.PairPhone != "" {
		if err := c.WA.Connect(); err != nil {
			return errors.Wrap(err, "connect")
		}
		// The pairing request is rejected if sent before the websocket is ready.
		time.Sleep(time.Second)
		code, err := c.WA.PairPhone(ctx, c.opts.PairPhone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
		if err != nil {
			return errors.Wrap(err, "request pairing code")
		}
		color.New(color.FgGreen, color.Bold).Printf("Pairing code: %s\n", code)
		logger.Info("Enter the pairing code on your phone: Linked devices > Link with phone number")
		return nil
	}

	qrChan, err := c.WA.GetQRChannel(ctx)
	if err != nil {
		return errors.Wrap(err, "get qr channel")
	}
	if err := c.WA.Connect(); err != nil {
		return errors.Wrap(err, "connect")
	}
	for evt := range qrChan {
		switch evt.Event {
		case whatsmeow.QRChannelEventCode:
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			logger.Info("Scan the QR code with WhatsApp: Linked devices > Link a device")
		case whatsmeow.QRChannelSuccess.Event:
			logger.Info("Login successful", "id", c.SelfID())
			return nil
		case whatsmeow.QRChannelTimeout.Event:
			return errors.New("qr code timed out")
		case whatsmeow.QRChannelEventError:
			return errors.Wrap(evt.Error, "pairing failed")
		default:
			logger.Debug("Login event", "event", evt.Event)
		}
	}
	return nil
}
