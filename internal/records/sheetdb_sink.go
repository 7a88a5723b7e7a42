package records

import (
	"context"
	"fmt"

	"github.com/vnmchuo/medcost/internal/sheetdb"
)

// SheetTimestampLayout is the timestamp format stored in the predictions sheet.
const SheetTimestampLayout = "2006-01-02 15:04:05"

type sheetRow struct {
	Email         string  `json:"email"`
	Age           int     `json:"age"`
	BMI           float64 `json:"bmi"`
	Children      int     `json:"children"`
	Gender        string  `json:"gender"`
	Smoker        string  `json:"smoker"`
	Region        string  `json:"region"`
	PredictionUSD float64 `json:"prediction_usd"`
	PredictionINR float64 `json:"prediction_inr"`
	Timestamp     string  `json:"timestamp"`
}

// SheetDBSink appends records to the predictions sheet.
type SheetDBSink struct {
	client *sheetdb.Client
}

func NewSheetDBSink(client *sheetdb.Client) *SheetDBSink {
	return &SheetDBSink{client: client}
}

func (s *SheetDBSink) Name() string { return "sheetdb" }

func (s *SheetDBSink) Write(ctx context.Context, rec *Record) error {
	row := sheetRow{
		Email:         rec.Email,
		Age:           rec.Age,
		BMI:           rec.BMI,
		Children:      rec.Children,
		Gender:        rec.Gender,
		Smoker:        rec.Smoker,
		Region:        rec.Region,
		PredictionUSD: rec.PredictionUSD,
		PredictionINR: rec.PredictionINR,
		Timestamp:     rec.CreatedAt.Format(SheetTimestampLayout),
	}
	if err := s.client.Create(ctx, row); err != nil {
		return fmt.Errorf("failed to append prediction row: %w", err)
	}
	return nil
}
