package jobs

import "strings"

// ParseTasks splits task input into ordered task items. Tasks are
// newline-delimited; lines are trimmed and blank lines dropped. When no
// non-blank line is found, the whole trimmed input becomes a single task.
// Blank input yields no tasks.
func ParseTasks(taskInput string) []TaskItem {
	if strings.TrimSpace(taskInput) == "" {
		return nil
	}

	var items []TaskItem
	for _, line := range strings.Split(taskInput, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			items = append(items, TaskItem{Text: trimmed})
		}
	}

	if len(items) == 0 {
		items = append(items, TaskItem{Text: strings.TrimSpace(taskInput)})
	}
	return items
}
