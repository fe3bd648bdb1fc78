package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is the preformatted content of a membership payment receipt.
type ReceiptData struct {
	GymName        string
	ReceiptNumber  string
	MemberName     string
	MemberEmail    string
	Method         string
	PaymentDate    string
	ExpirationDate string
	DurationDays   int
	Amount         string
	Voided         bool
	VoidReason     string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error) {
	if data.ReceiptNumber == "" {
		return nil, errors.New("receipt number is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(8, "Payment receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.GymName, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Receipt number: "+data.ReceiptNumber, props.Text{Top: 0}),
			text.New("Date paid: "+data.PaymentDate, props.Text{Top: 4}),
			text.New("Method: "+data.Method, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Member", props.Text{Style: fontstyle.Bold}),
			text.New(data.MemberName, props.Text{Top: 5}),
			text.New(data.MemberEmail, props.Text{Top: 9}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, data.Amount+" paid on "+data.PaymentDate, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Valid until", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(15,
		text.NewCol(6, membershipLine(data.DurationDays), props.Text{Size: 9}),
		text.NewCol(3, data.ExpirationDate, props.Text{Size: 9, Align: align.Right}),
		text.NewCol(3, data.Amount, props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, data.Amount, props.Text{Size: 9, Align: align.Right, Style: fontstyle.Bold}),
	)

	if data.Voided {
		note := "VOIDED"
		if data.VoidReason != "" {
			note += ": " + data.VoidReason
		}
		m.AddRow(15,
			text.NewCol(12, note, props.Text{Size: 12, Style: fontstyle.Bold, Top: 5}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func membershipLine(days int) string {
	if days == 1 {
		return "Membership, 1 day"
	}
	return fmt.Sprintf("Membership, %d days", days)
}
