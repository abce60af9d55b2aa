// ABOUTME: Parses operator chat commands such as "!accept CODE" and "!end".
// ABOUTME: Also builds the notification and help texts operators see.

package operator

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Command is a parsed operator command.
type Command struct {
	Name string
	Arg  string
}

// ParseCommand recognises prefix-led commands. Anything else is free text.
func ParseCommand(prefix, body string) (Command, bool) {
	body = strings.TrimSpace(body)
	if prefix == "" || !strings.HasPrefix(body, prefix) {
		return Command{}, false
	}

	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}
	cmd := Command{Name: strings.ToLower(fields[0])}
	if len(fields) > 1 {
		cmd.Arg = strings.Join(fields[1:], " ")
	}
	return cmd, true
}

// HelpText lists the commands an operator can use.
func HelpText(prefix string) string {
	return fmt.Sprintf("Commands:\n"+
		"- react to a waiting-visitor notice, or send %[1]saccept CODE, to take the conversation\n"+
		"- %[1]send to hand the conversation back to the assistant\n"+
		"- any other message is sent to your current visitor", prefix)
}

// NotificationMarkdown renders the claim notification posted for a waiting session.
func NotificationMarkdown(c Claimable, prefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Visitor waiting** `%s`\n\n", c.Code)
	if c.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n\n", c.Reason)
	}
	for _, k := range slices.Sorted(maps.Keys(c.UserInfo)) {
		fmt.Fprintf(&b, "- %s: %s\n", k, c.UserInfo[k])
	}
	if len(c.UserInfo) > 0 {
		b.WriteString("\n")
	}
	if c.Trigger != "" {
		fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(c.Trigger, "\n", "\n> "))
	}
	fmt.Fprintf(&b, "React to this message or send `%saccept %s` to take it.", prefix, c.Code)
	return b.String()
}
