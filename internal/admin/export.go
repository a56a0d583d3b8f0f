package admin

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
)

const exportSheet = "Rendez-vous"

var exportColumns = []string{"Date", "Heure", "Client", "Email", "Téléphone", "Motif", "Statut", "Motif d'annulation"}

// StatusLabel is the French label shown to employees.
func StatusLabel(s appointment.Status) string {
	switch s {
	case appointment.StatusPending:
		return "En attente"
	case appointment.StatusConfirmed:
		return "Confirmé"
	case appointment.StatusCancelled:
		return "Annulé"
	case appointment.StatusCompleted:
		return "Terminé"
	case appointment.StatusBlocked:
		return "Bloqué"
	case appointment.StatusRescheduledPending:
		return "Action Requise"
	default:
		return string(s)
	}
}

// Export writes the filtered list to w as an XLSX workbook.
func (s *Service) Export(ctx context.Context, filter ListFilter, w io.Writer) error {
	apps, err := s.List(ctx, filter)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(exportColumns), 1)
		_ = f.SetCellStyle(exportSheet, "A1", last, style)
	}

	for i, a := range apps {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			a.Date,
			a.Time,
			a.ClientName,
			a.ClientEmail,
			a.ClientPhone,
			a.Reason,
			StatusLabel(a.Status),
			a.CancellationReason,
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
