package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"skein/internal/story"
)

const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[2m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

// storyTitle dims read stories and highlights marked ones on a terminal.
func storyTitle(s *story.Story, colorize bool) string {
	title := s.Title
	if title == "" {
		title = s.ID
	}
	if !colorize {
		return title
	}
	switch {
	case s.IsMarked():
		return ansiYellow + title + ansiReset
	case s.IsRead():
		return ansiDim + title + ansiReset
	default:
		return title
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
