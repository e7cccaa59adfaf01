package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/mengy007/evv-poc/internal/bootstrap"
	"github.com/mengy007/evv-poc/internal/domain"
)

func printState(w io.Writer, s bootstrap.State) {
	fmt.Fprintf(w, "Status:   %s\n", s.Status)
	if s.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", s.Error)
	}
	if s.Identity.ID != "" {
		fmt.Fprintf(w, "Device:   %s (%s)\n", s.Identity.ID, s.Identity.Method)
	}
	if s.AgentID != "" {
		fmt.Fprintf(w, "Agent:    %s\n", s.AgentID)
	}
	fmt.Fprintf(w, "Patient:  %s\n", partyLabel(s.Patient))
	fmt.Fprintf(w, "User:     %s\n", partyLabel(s.User))

	if s.Session != nil {
		fmt.Fprintf(w, "Visit:    #%d open since %s (%s)\n",
			s.Session.ID, s.Session.StartedAt.Local().Format(time.DateTime), s.Elapsed)
	} else {
		fmt.Fprintln(w, "Visit:    none open")
	}

	if len(s.Sessions) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tPATIENT\tSTARTED\tENDED\tLOCATION")
	for _, sess := range s.Sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			sess.ID,
			nameOr(sess.UserName, sess.UserID),
			nameOr(sess.PatientName, sess.PatientID),
			sess.StartedAt.Local().Format(time.DateTime),
			endedLabel(sess.EndedAt),
			locationLabel(sess.Location),
		)
	}
	_ = tw.Flush()
}

func partyLabel(p *domain.Party) string {
	if p == nil {
		return "not found"
	}
	if p.Name != nil && *p.Name != "" {
		return fmt.Sprintf("%s (#%d)", *p.Name, p.ID)
	}
	return fmt.Sprintf("#%d", p.ID)
}

func nameOr(name *string, id int64) string {
	if name != nil && *name != "" {
		return *name
	}
	return fmt.Sprintf("#%d", id)
}

func endedLabel(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return t.Local().Format(time.DateTime)
}

func locationLabel(l *domain.Location) string {
	if l == nil {
		return "-"
	}
	return fmt.Sprintf("%.5f,%.5f", l.Lat, l.Lon)
}
