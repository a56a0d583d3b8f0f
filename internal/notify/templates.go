package notify

import (
	"fmt"
	"strings"
)

// Message is a rendered e-mail ready for a Sender.
type Message struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

const operatorName = "Administrateur"

// Render builds the French e-mail for ev. The recipient must already be
// resolved to an address.
func Render(ev Event, company string) Message {
	p := ev.Payload
	msg := Message{
		To:     ev.Recipient.Email,
		ToName: ev.Recipient.Name,
	}
	if ev.Recipient.Operator {
		msg.ToName = operatorName
	}

	switch {
	case ev.Kind == KindBookingCreated && ev.Recipient.Operator:
		phone := p.ClientPhone
		if phone == "" {
			phone = "Non renseigné"
		}
		msg.Subject = "NOUVEAU RDV: " + p.ClientName
		msg.Body = fmt.Sprintf("Nouveau rendez-vous demandé.\nClient: %s\nTél: %s\nMotif: %s\nDate: %s à %s",
			p.ClientName, phone, p.Reason, p.Date, p.Time)

	case ev.Kind == KindBookingCreated:
		msg.Subject = "Confirmation de rendez-vous - " + p.Date
		msg.Body = fmt.Sprintf("Votre demande de rendez-vous pour \"%s\" a été enregistrée.\nDate: %s à %s",
			p.Reason, p.Date, p.Time)

	case ev.Kind == KindClientCancelled:
		msg.Subject = "ANNULATION RDV: " + p.ClientName
		msg.Body = fmt.Sprintf("Le client %s a annulé son rendez-vous du %s à %s.\nMotif: %s",
			p.ClientName, p.Date, p.Time, p.Reason)

	default:
		// status_changed and reschedule_proposed share the status update mail.
		msg.Subject = "Mise à jour de votre rendez-vous"
		lines := []string{statusMessage(p.Status), fmt.Sprintf("Date: %s à %s", p.Date, p.Time)}
		if p.Note != "" {
			lines = append(lines, "Note: "+p.Note)
		}
		msg.Body = strings.Join(lines, "\n")
	}

	if company != "" {
		msg.Body += "\n\n" + company
	}
	return msg
}

func statusMessage(status string) string {
	switch status {
	case "CONFIRMED":
		return "Votre rendez-vous est CONFIRMÉ."
	case "CANCELLED":
		return "Votre rendez-vous a été ANNULÉ."
	case "RESCHEDULED_PENDING":
		return "Une modification d'horaire est proposée."
	default:
		return "Le statut est maintenant : " + status
	}
}
