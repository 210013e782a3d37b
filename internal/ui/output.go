// Package ui provides colored terminal output for the CLI.
package ui

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
)

const headerWidth = 60

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	infoColor    = color.New(color.FgWhite)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed, color.Bold)
	stepColor    = color.New(color.FgBlue, color.Bold)
	blueColor    = color.New(color.FgBlue)
	yellowColor  = color.New(color.FgYellow)
)

// Header prints a banner with the text centered.
func Header(text string) {
	line := strings.Repeat("=", headerWidth)
	headerColor.Println(line)
	headerColor.Println(center(text, headerWidth))
	headerColor.Println(line)
}

// Step prints a numbered progress step.
func Step(current, total int, text string) {
	stepColor.Printf("[%d/%d] ", current, total)
	fmt.Println(text)
}

// Success prints a success message.
func Success(text string) {
	successColor.Println("✓ " + text)
}

// Info prints an informational message.
func Info(text string) {
	infoColor.Println(text)
}

// Warning prints a warning message.
func Warning(text string) {
	warningColor.Println("! " + text)
}

// Error prints an error message.
func Error(text string) {
	errorColor.Println("✗ " + text)
}

// BlueText prints text in blue.
func BlueText(text string) {
	blueColor.Println(text)
}

// YellowText prints text in yellow.
func YellowText(text string) {
	yellowColor.Println(text)
}

// center left-pads text so it sits in the middle of width columns.
func center(text string, width int) string {
	if len(text) >= width {
		return text
	}
	return strings.Repeat(" ", (width-len(text))/2) + text
}
