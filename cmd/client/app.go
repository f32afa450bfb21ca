package main

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/timloh-professional/origin/internal/model"
	"github.com/timloh-professional/origin/internal/service/engine"
	"github.com/timloh-professional/origin/internal/utils/log"
)

type (
	app struct {
		ui      *tview.Application
		chatbox *tview.TextView
		input   *tview.InputField

		engine *engine.Engine
		self   string
		peer   string
	}
)

func newApp(eng *engine.Engine, self, peer string) *app {
	return &app{
		ui:     tview.NewApplication(),
		engine: eng,
		self:   self,
		peer:   peer,
	}
}

// bootstrap walks the engine through enrollment and room load before the
// UI starts.
func (a *app) bootstrap(ctx context.Context) error {
	a.engine.SetEvents(engine.Events{
		Message: func(m model.DecryptedMessage) {
			a.appendMessage(m)
		},
		Encrypted: func(m model.EncryptedMessage) {
			a.appendLine(fmt.Sprintf("[gray]%s: (message pending keys)[-]", m.SenderAddress))
		},
	})

	if err := a.engine.SetAccount(ctx, a.self); err != nil {
		return err
	}
	if err := a.engine.Enable(ctx); err != nil {
		return err
	}
	if err := a.engine.InitMessaging(ctx); err != nil {
		return err
	}
	if err := a.engine.LoadRooms(ctx); err != nil {
		return err
	}
	_, err := a.engine.StartConversation(ctx, a.peer)
	return err
}

// run blocks on the terminal UI.
func (a *app) run() {
	a.chatbox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.chatbox.SetBorder(true).SetTitle(fmt.Sprintf(" Chat with %s ", a.peer))

	a.input = tview.NewInputField().
		SetLabel("Message: ").
		SetFieldWidth(0)
	a.input.SetBorder(true).SetTitle(" New Message ")

	a.input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.input.GetText()
		if text == "" {
			return
		}
		go func(content string) {
			_, err := a.engine.SendMessage(context.Background(), a.peer, &model.Message{Content: content})
			if err != nil {
				a.ui.Suspend(func() {
					log.Error("send failed", zap.Error(err))
				})
				return
			}
			a.ui.QueueUpdateDraw(func() {
				a.input.SetText("")
			})
		}(text)
	})

	layout := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.chatbox, 0, 1, false).
		AddItem(a.input, 3, 0, true)

	if err := a.ui.SetRoot(layout, true).SetFocus(a.input).Run(); err != nil {
		log.Fatal("cannot init app", zap.Error(err))
	}
}

func (a *app) appendMessage(m model.DecryptedMessage) {
	if m.SenderAddress == a.self {
		a.appendLine(fmt.Sprintf("[yellow]You:[-] %s", m.Msg.Content))
		return
	}
	a.appendLine(fmt.Sprintf("[green]%s:[-] %s", m.SenderAddress, m.Msg.Content))
}

func (a *app) appendLine(line string) {
	a.ui.QueueUpdateDraw(func() {
		fmt.Fprintln(a.chatbox, line)
		a.chatbox.ScrollToEnd()
	})
}
