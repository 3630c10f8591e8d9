package engine

import (
	"fmt"
	"strings"

	"example.com/sockathon/internal/domain"
)

func mention(id string) string {
	return "<@" + id + ">"
}

func thresholdMessage(p domain.Participant, r Rules) string {
	return fmt.Sprintf("_Relieved sock noises_\n*Translation:* No lint on these toes - %s just hit the %d min mark for today!",
		mention(p.ID), r.ThresholdSeconds/60)
}

func warningMessage(p domain.Participant, r Rules) string {
	where := strings.ToLower(p.TZLabel)
	if where == "" {
		where = "where you are"
	}
	return fmt.Sprintf("_Worried sock noises_\n*Translation:* It's %s %s, and you haven't coded your %d minutes yet today! You've got until midnight tonight. Don't be a smelly sock and let your team down!",
		clockLabel(r.WarningHour, r.WarningMinute), where, r.ThresholdSeconds/60)
}

func eliminationMessage(team domain.Team, trigger, recipient domain.Participant, r Rules) string {
	if trigger.ID == recipient.ID {
		return fmt.Sprintf("_Sad sock noises_\n*Translation:* You didn't get your %d minutes in today, so team *%s* is out of Sockathon. Thanks for playing!",
			r.ThresholdSeconds/60, team.Name)
	}
	return fmt.Sprintf("_Sad sock noises_\n*Translation:* Your teammate %s didn't get their %d minutes in today, so team *%s* is out of Sockathon. Thanks for playing!",
		mention(trigger.ID), r.ThresholdSeconds/60, team.Name)
}

func broadcastMessage(team domain.Team, members []domain.Participant) string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, mention(m.ID))
	}
	return fmt.Sprintf("_Holey sock noises_\n*Translation:* Team *%s* (%s) has been eliminated!", team.Name, strings.Join(names, " & "))
}

// clockLabel renders 18:00 as "6pm" and 18:30 as "6:30pm".
func clockLabel(hour, minute int) string {
	suffix := "am"
	if hour >= 12 {
		suffix = "pm"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	if minute == 0 {
		return fmt.Sprintf("%d%s", h, suffix)
	}
	return fmt.Sprintf("%d:%02d%s", h, minute, suffix)
}
