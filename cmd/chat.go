package cmd

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/loomlocal/loom/pkg/blocks"
	"github.com/loomlocal/loom/pkg/envelope"
	"github.com/loomlocal/loom/pkg/render"
	"github.com/loomlocal/loom/pkg/stream"
)

var (
	chatServerURL string
	chatConvID    int64
	chatModel     string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running loom server from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func init() {
	chatCmd.Flags().StringVar(&chatServerURL, "server", "http://127.0.0.1:8000", "base URL of the loom server")
	chatCmd.Flags().Int64Var(&chatConvID, "conversation", 0, "conversation id to continue (0 starts a new one)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "model override for this session")
	rootCmd.AddCommand(chatCmd)
}

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	metaStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// apiClient talks to the loom HTTP backend
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

func (c *apiClient) createConversation(ctx context.Context, model string) (int64, error) {
	body, _ := json.Marshal(map[string]string{"model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/conversations", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	var conv struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return 0, err
	}
	return conv.ID, nil
}

// send opens the chat stream; the caller owns the response body
func (c *apiClient) send(ctx context.Context, convID int64, content, model string) (*http.Response, error) {
	body, _ := json.Marshal(map[string]string{"content": content, "model": model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/conversations/%d/chat", c.baseURL, convID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// SavePartial posts interrupted content back to the server so the turn
// survives in history
func (c *apiClient) SavePartial(ctx context.Context, conversationID int64, content, model, thinking string) error {
	body, _ := json.Marshal(map[string]string{
		"content": content, "model": model, "thinking": thinking,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/conversations/%d/messages/partial", c.baseURL, conversationID),
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("partial save returned status %d", resp.StatusCode)
	}
	return nil
}

var _ stream.PartialSaver = (*apiClient)(nil)

func runChat() error {
	client := newAPIClient(chatServerURL)

	convID := chatConvID
	if convID == 0 {
		id, err := client.createConversation(context.Background(), chatModel)
		if err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		convID = id
		fmt.Println(metaStyle.Render(fmt.Sprintf("conversation %d", convID)))
	}

	term, err := render.NewTerm(100)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := runTurn(client, term, convID, line); err != nil {
			fmt.Println(errorStyle.Render("error: " + err.Error()))
		}
	}
}

// runTurn streams one assistant turn to the terminal. Ctrl+C abandons
// the turn locally; whatever streamed so far is kept and saved.
func runTurn(client *apiClient, term *render.Term, convID int64, content string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	resp, err := client.send(ctx, convID, content, chatModel)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	printer := &turnPrinter{}
	session := blocks.NewSession(nil, blocks.Hooks{
		OnOpen:   printer.open,
		OnUpdate: render.ThrottlePreview(render.DefaultPreviewInterval, printer.preview),
		OnFinal:  printer.final,
		OnMeta:   printer.meta,
	})

	runner := &stream.Runner{
		ConversationID: convID,
		Session:        session,
		Saver:          client,
	}
	runErr := runner.Run(ctx, resp.Body)

	printer.close()

	msg := session.Message()
	if runErr != nil {
		fmt.Println()
		if session.Cancelled() {
			fmt.Println(metaStyle.Render("cancelled, partial answer saved"))
		} else {
			fmt.Println(errorStyle.Render("stream failed: " + runErr.Error()))
		}
	}

	// The streamed text was raw; show the rendered form once complete.
	if text := msg.Text(); text != "" && msg.Complete() && msg.Err() == nil {
		fmt.Println()
		fmt.Print(term.Render(text))
	}
	if usage := msg.Usage; usage != nil {
		suffix := ""
		if usage.Estimated {
			suffix = " (estimated)"
		}
		fmt.Println(metaStyle.Render(fmt.Sprintf("tokens: %d in, %d out%s",
			usage.InputTokens, usage.OutputTokens, suffix)))
	}
	return nil
}

// turnPrinter writes stream activity to stdout as it happens
type turnPrinter struct {
	printed map[string]int // block id -> bytes already echoed
}

func (p *turnPrinter) open(b *blocks.Block) {
	switch b.Kind {
	case blocks.KindThinking:
		fmt.Println(thinkingStyle.Render("· thinking"))
	case blocks.KindTool:
		fmt.Println(toolStyle.Render("· tools"))
	case blocks.KindVision:
		fmt.Println(toolStyle.Render("· reading attachments"))
	}
}

func (p *turnPrinter) preview(snap blocks.Snapshot) {
	if snap.Kind != blocks.KindText {
		return
	}
	if p.printed == nil {
		p.printed = make(map[string]int)
	}
	offset := p.printed[snap.ID]
	if offset < len(snap.Content) {
		fmt.Print(snap.Content[offset:])
		p.printed[snap.ID] = len(snap.Content)
	}
}

func (p *turnPrinter) final(b *blocks.Block) {
	switch b.Kind {
	case blocks.KindText:
		p.preview(b.Snapshot())
	case blocks.KindThinking:
		fmt.Println(thinkingStyle.Render(indent(b.Content())))
	case blocks.KindTool:
		for _, inv := range b.Invocations {
			line := fmt.Sprintf("  %s(%s)", inv.Name, compactArgs(inv.Args))
			if inv.Error != "" {
				line += " failed: " + inv.Error
			}
			fmt.Println(toolStyle.Render(line))
		}
	case blocks.KindVision:
		fmt.Println(toolStyle.Render(indent(b.Content())))
	}
}

func (p *turnPrinter) meta(m envelope.Meta) {}

func (p *turnPrinter) close() {
	fmt.Println()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}

func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	out := string(encoded)
	if len(out) > 60 {
		out = out[:60] + "..."
	}
	return out
}
