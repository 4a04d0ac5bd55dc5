package chat

import "strings"

// Callback data is pipe-delimited: "action|argument". Actions that take no
// argument use the bare action name.
func FormatCallback(action, arg string) string {
	if arg == "" {
		return action
	}
	return action + "|" + arg
}

func ParseCallback(data string) (action, arg string) {
	action, arg, _ = strings.Cut(data, "|")
	return action, arg
}
