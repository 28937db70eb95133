package tool

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeLinkIssuer struct {
	lastProduct string
	lastVenue   string
	lastAmount  int
	link        string
	err         error
}

func (f *fakeLinkIssuer) CreatePaymentLink(ctx context.Context, product, venueID, chatID string, amount int) (string, error) {
	f.lastProduct = product
	f.lastVenue = venueID
	f.lastAmount = amount
	return f.link, f.err
}

func TestPaymentToolListsProductsWithoutCode(t *testing.T) {
	t.Parallel()

	tool := NewPaymentTool(&fakeLinkIssuer{}, PaymentToolConfig{Venues: testVenues()})
	out, err := tool.Run(context.Background(), map[string]any{"venue": "club-1"})
	if err != nil {
		t.Fatalf("payment tool error = %v", err)
	}
	if !strings.Contains(out, "trial_week") || !strings.Contains(out, "2900") {
		t.Fatalf("output = %q, want product list with prices", out)
	}
}

func TestPaymentToolIssuesLink(t *testing.T) {
	t.Parallel()

	issuer := &fakeLinkIssuer{link: "https://pay.example/abc"}
	tool := NewPaymentTool(issuer, PaymentToolConfig{Venues: testVenues()})

	out, err := tool.Run(context.Background(), map[string]any{
		"product": "trial_week",
		"venue":   "Central",
	})
	if err != nil {
		t.Fatalf("payment tool error = %v", err)
	}

	if issuer.lastProduct != "trial_week" || issuer.lastVenue != "club-1" || issuer.lastAmount != 2900 {
		t.Fatalf("issuer called with product=%q venue=%q amount=%d",
			issuer.lastProduct, issuer.lastVenue, issuer.lastAmount)
	}
	if !strings.Contains(out, "https://pay.example/abc") {
		t.Fatalf("output = %q, want the payment link", out)
	}
}

func TestPaymentToolUnknownProduct(t *testing.T) {
	t.Parallel()

	tool := NewPaymentTool(&fakeLinkIssuer{}, PaymentToolConfig{Venues: testVenues()})
	out, err := tool.Run(context.Background(), map[string]any{
		"product": "gold_card",
		"venue":   "club-1",
	})
	if err != nil {
		t.Fatalf("payment tool error = %v", err)
	}
	if !strings.Contains(out, "Unknown product") || !strings.Contains(out, "pass_12m") {
		t.Fatalf("output = %q, want unknown product message with catalog", out)
	}
}

func TestPaymentToolIssuerFailure(t *testing.T) {
	t.Parallel()

	tool := NewPaymentTool(&fakeLinkIssuer{err: errors.New("acquirer down")}, PaymentToolConfig{Venues: testVenues()})
	_, err := tool.Run(context.Background(), map[string]any{
		"product": "first_month",
		"venue":   "club-1",
	})
	if err == nil {
		t.Fatal("payment tool did not surface the issuer failure")
	}
}
