package chat

import (
	"context"
	"fmt"

	"botserver/pkg/bus"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SendFunc delivers one line to the bot and returns its reply.
type SendFunc func(ctx context.Context, text string) (bus.OutboundMessage, error)

func RunInteractive(ctx context.Context, sendFn SendFunc, info RuntimeInfo) error {
	model := newModel(ctx, sendFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	if err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner(info.Bot))
	return nil
}

func RunOneShot(ctx context.Context, sendFn SendFunc, text string, info RuntimeInfo) error {
	model := newModel(ctx, sendFn, modeOneShot, text, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner(bot string) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render(fmt.Sprintf("🤖 %s says goodbye", displayOrNA(bot)))
}
