package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotPaired = errors.New("whatsapp device is not paired")

// WhatsApp delivers notifications to the client's phone through a linked
// WhatsApp device. Device keys live in dialect ("sqlite3" or "postgres").
type WhatsApp struct {
	client *whatsmeow.Client
	log    zerolog.Logger
}

func NewWhatsApp(ctx context.Context, dialect, dsn string, log zerolog.Logger) (*WhatsApp, error) {
	container, err := sqlstore.New(ctx, dialect, dsn, waLog.Stdout("WhatsAppStore", "WARN", false))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}
	return &WhatsApp{
		client: whatsmeow.NewClient(device, waLog.Stdout("WhatsApp", "WARN", false)),
		log:    log.With().Str("component", "whatsapp").Logger(),
	}, nil
}

// Pair links a new device by printing the login QR code to out, or simply
// connects when the store already holds a session.
func (w *WhatsApp) Pair(ctx context.Context, out io.Writer) error {
	if w.client.Store.ID != nil {
		return w.Connect()
	}
	qrChan, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return err
	}
	if err := w.client.Connect(); err != nil {
		return err
	}
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			fmt.Fprintln(out, "Scan this code with WhatsApp > Linked devices:")
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, out)
		case "success":
			w.log.Info().Msg("device paired")
			return nil
		default:
			w.log.Warn().Str("event", evt.Event).Msg("pairing event")
		}
	}
	return fmt.Errorf("pairing ended without success")
}

func (w *WhatsApp) Connect() error {
	if w.client.Store.ID == nil {
		return ErrNotPaired
	}
	if w.client.IsConnected() {
		return nil
	}
	return w.client.Connect()
}

func (w *WhatsApp) Close() {
	w.client.Disconnect()
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Send(ctx context.Context, msg Outgoing) error {
	return w.SendText(ctx, msg.Phone, fmt.Sprintf("*%s*\n%s", msg.Title, msg.Message))
}

func (w *WhatsApp) SendText(ctx context.Context, phone, text string) error {
	number := NormalizePhone(phone)
	if number == "" {
		return ErrNoRecipient
	}
	if err := w.Connect(); err != nil {
		return err
	}
	_, err := w.client.SendMessage(ctx, types.NewJID(number, types.DefaultUserServer), &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

// NormalizePhone reduces a phone number to its international digits.
// Numbers shorter than 8 digits are rejected.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "00")
	if len(digits) < 8 {
		return ""
	}
	return digits
}
