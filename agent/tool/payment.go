package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const ToolPaymentLink = "payment.link"

// Product is one purchasable membership item.
type Product struct {
	Code   string
	Title  string
	Amount int // in whole currency units
}

// DefaultProducts is the standard membership catalog. Deployments can override
// it through PaymentToolConfig.
var DefaultProducts = []Product{
	{Code: "trial_week", Title: "Trial week", Amount: 2900},
	{Code: "starter", Title: "Starter pack (4 sessions)", Amount: 7900},
	{Code: "first_month", Title: "First month", Amount: 14900},
	{Code: "pass_6m", Title: "6-month pass", Amount: 69900},
	{Code: "pass_12m", Title: "12-month pass", Amount: 119900},
}

// LinkIssuer creates a personal payment link for a product.
type LinkIssuer interface {
	CreatePaymentLink(ctx context.Context, product, venueID, chatID string, amount int) (string, error)
}

// PaymentToolConfig carries the catalog and venue directory for the payment
// tool. ChatID binds issued links to the conversation they were requested in.
type PaymentToolConfig struct {
	Products []Product
	Venues   *VenueDirectory
	ChatID   string
}

// NewPaymentTool builds the payment link tool over the given issuer.
func NewPaymentTool(issuer LinkIssuer, cfg PaymentToolConfig) Tool {
	products := cfg.Products
	if len(products) == 0 {
		products = DefaultProducts
	}
	byCode := make(map[string]Product, len(products))
	codes := make([]string, 0, len(products))
	for _, p := range products {
		byCode[p.Code] = p
		codes = append(codes, p.Code)
	}
	sort.Strings(codes)

	info := &schema.ToolInfo{
		Name: ToolPaymentLink,
		Desc: "Issue a personal payment link for a membership product, or list available products.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"product": {Type: schema.String,
				Desc: "Product code: " + strings.Join(codes, ", ") + ". Omit to list products with prices."},
			"venue": {Type: schema.String, Desc: "Club id or club name", Required: true},
		}),
	}

	run := func(ctx context.Context, args map[string]any) (string, error) {
		code := strings.TrimSpace(stringArg(args, "product"))
		if code == "" {
			return formatProducts(products), nil
		}

		product, ok := byCode[code]
		if !ok {
			return fmt.Sprintf("Unknown product %q.\n\n%s", code, formatProducts(products)), nil
		}

		venueID, _, ok := cfg.Venues.Resolve(stringArg(args, "venue"))
		if !ok {
			return fmt.Sprintf("Unknown club %q. Available clubs: %s.",
				stringArg(args, "venue"), strings.Join(cfg.Venues.Names(), ", ")), nil
		}

		link, err := issuer.CreatePaymentLink(ctx, product.Code, venueID, cfg.ChatID, product.Amount)
		if err != nil {
			return "", fmt.Errorf("create payment link for product=%s: %w", product.Code, err)
		}

		return fmt.Sprintf("%s, %d: %s", product.Title, product.Amount, link), nil
	}

	return Tool{Info: info, Run: run}
}

func formatProducts(products []Product) string {
	var sb strings.Builder
	sb.WriteString("Available products:\n")
	for _, p := range products {
		fmt.Fprintf(&sb, "  %s: %s, %d\n", p.Code, p.Title, p.Amount)
	}
	return strings.TrimRight(sb.String(), "\n")
}
