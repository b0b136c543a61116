package pdf

import (
	"bytes"
	"context"
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

type ReportData struct {
	DisplayName string
	PeriodStart string
	PeriodEnd   string
	GeneratedAt string

	Balance       int64
	StreakCurrent int
	StreakLongest int

	// Trailing week totals.
	BowlsFinalized      int64
	TasksTicked         int64
	PointsEarned        int64
	VerificationsPassed int64

	Days  []ReportDay
	Areas []ReportArea
}

type ReportDay struct {
	Day            string
	BowlsFinalized int64
	TasksTicked    int64
	PointsEarned   int64
	PointsSpent    int64
}

type ReportArea struct {
	Name           string
	BowlsFinalized int64
	PointsTotal    int64
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateProgressReport(ctx context.Context, data ReportData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, "Babcia progress report", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	// Report Meta
	m.AddRow(20,
		col.New(6).Add(
			text.New("Prepared for: "+data.DisplayName, props.Text{Top: 0}),
			text.New("Period: "+data.PeriodStart+" to "+data.PeriodEnd, props.Text{Top: 4}),
			text.New("Generated: "+data.GeneratedAt, props.Text{Top: 8}),
		),
		col.New(6),
	)

	// Headline Balance
	m.AddRow(15,
		text.NewCol(12, fmt.Sprintf("%d points banked", data.Balance), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	// Streak and Week Summary
	m.AddRow(25,
		col.New(6).Add(
			text.New("Streak", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(fmt.Sprintf("%d days running, best %d", data.StreakCurrent, data.StreakLongest), props.Text{Size: 9, Top: 5}),
		),
		col.New(6).Add(
			text.New("This week", props.Text{Style: fontstyle.Bold, Size: 9}),
			text.New(fmt.Sprintf("%d bowls finalized, %d tasks ticked", data.BowlsFinalized, data.TasksTicked), props.Text{Size: 9, Top: 5}),
			text.New(fmt.Sprintf("%d points earned, %d verifications passed", data.PointsEarned, data.VerificationsPassed), props.Text{Size: 9, Top: 9}),
		),
	)

	// Day Table Header
	m.AddRow(10,
		text.NewCol(4, "Day", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Bowls", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Tasks", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Earned", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Spent", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, day := range data.Days {
		m.AddRow(8,
			text.NewCol(4, day.Day, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", day.BowlsFinalized), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%d", day.TasksTicked), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%d", day.PointsEarned), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, fmt.Sprintf("%d", day.PointsSpent), props.Text{Size: 9, Align: align.Right}),
		)
	}

	// Area Table Header
	m.AddRow(12,
		text.NewCol(6, "Area", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4}),
		text.NewCol(3, "Bowls finalized", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 4}),
		text.NewCol(3, "Points", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Top: 4}),
	)

	for _, area := range data.Areas {
		m.AddRow(8,
			text.NewCol(6, area.Name, props.Text{Size: 9}),
			text.NewCol(3, fmt.Sprintf("%d", area.BowlsFinalized), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(3, fmt.Sprintf("%d", area.PointsTotal), props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
