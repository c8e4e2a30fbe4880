package main

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshelest/shopmate/internal/audio"
	"github.com/oshelest/shopmate/internal/config"
)

// assistantMessage mirrors the daemon's conversation message JSON.
type assistantMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
	AudioRef  string `json:"audioRef,omitempty"`
	Related   *struct {
		Articles []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"articles"`
		Checklists []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"checklists"`
	} `json:"relatedResources,omitempty"`
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send a message to an assistant persona",
	Long: `Send a message to an assistant persona and print the reply.

Examples:
  shopmate ask "Як відповісти на скаргу клієнта?"
  shopmate ask --persona psychologist "Важка зміна сьогодні"
  shopmate ask --mic`,
	RunE: func(cmd *cobra.Command, args []string) error {
		personaID, _ := cmd.Flags().GetString("persona")
		mic, _ := cmd.Flags().GetBool("mic")

		text := strings.TrimSpace(strings.Join(args, " "))
		if text == "" && !mic {
			return fmt.Errorf("a message is required (or use --mic to record one)")
		}

		body := map[string]any{}
		if mic {
			audioBase64, audioRef, err := recordVoiceMessage(cmd)
			if err != nil {
				return err
			}
			body["audioBase64"] = audioBase64
			body["audioRef"] = audioRef
		} else {
			body["text"] = text
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/assistant/"+personaID+"/messages", body)
		if err != nil {
			return err
		}

		var msg assistantMessage
		if err := decodeJSON(resp, &msg); err != nil {
			return err
		}

		fmt.Println(msg.Content)
		if msg.Related != nil && (len(msg.Related.Articles) > 0 || len(msg.Related.Checklists) > 0) {
			fmt.Println()
			for _, a := range msg.Related.Articles {
				fmt.Printf("  %s  %s\n", colorize(colorCyan, a.ID), a.Title)
			}
			for _, c := range msg.Related.Checklists {
				fmt.Printf("  %s  %s\n", colorize(colorCyan, c.ID), c.Title)
			}
		}
		return nil
	},
}

// recordVoiceMessage captures microphone audio until the user presses Enter
// and returns the encoded payload plus the local playback reference.
func recordVoiceMessage(cmd *cobra.Command) (string, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", "", err
	}

	dev := audio.NewCaptureDevice(cfg.Audio.Command, audio.DefaultCaptureArgs(cfg.Audio.SampleRate), cfg.Audio.SampleRate)
	rec := audio.NewRecorder(dev, cfg.Audio.SampleRate)
	if !rec.Capable() {
		return "", "", fmt.Errorf("no capture device available (%s not found)", cfg.Audio.Command)
	}

	if err := rec.Start(cmd.Context()); err != nil {
		return "", "", fmt.Errorf("starting recording: %w", err)
	}

	printStep("Recording... press Enter to stop")
	meterStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-meterStop:
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r  %s %s ", levelBar(rec.Level(), 20), formatElapsed(rec.Elapsed()))
			}
		}
	}()

	_, readErr := bufio.NewReader(os.Stdin).ReadString('\n')
	close(meterStop)
	fmt.Fprintln(os.Stderr)
	if readErr != nil {
		rec.Abort()
		return "", "", fmt.Errorf("reading stdin: %w", readErr)
	}

	clip, err := rec.Stop()
	if err != nil {
		return "", "", fmt.Errorf("stopping recording: %w", err)
	}
	printSuccess("Recorded %s (%d KB)", formatElapsed(int(clip.Duration.Seconds())), clip.Size/1024)
	return clip.Base64, clip.Ref, nil
}

// levelBar renders an input level in [0,1] as a fixed-width meter.
func levelBar(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

func formatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func init() {
	askCmd.Flags().String("persona", "seller", "persona to ask: seller, psychologist, or companion")
	askCmd.Flags().Bool("mic", false, "record a voice message instead of sending text")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversation history for a persona",
	RunE: func(cmd *cobra.Command, args []string) error {
		personaID, _ := cmd.Flags().GetString("persona")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/assistant/"+personaID+"/messages")
		if err != nil {
			return err
		}

		var history struct {
			Persona  string             `json:"persona"`
			Messages []assistantMessage `json:"messages"`
			Pending  bool               `json:"pending"`
		}
		if err := decodeJSON(resp, &history); err != nil {
			return err
		}

		if len(history.Messages) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}

		for _, m := range history.Messages {
			label := "assistant"
			if m.Role == "user" {
				label = "you"
			}
			fmt.Printf("%s %s\n", colorize(colorBold, label+":"), m.Content)
		}
		if history.Pending {
			printStep("A reply is still pending...")
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("persona", "seller", "persona whose history to show")
}

// --- kb ---

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Search and read knowledge base articles",
}

var kbSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "List articles, optionally filtered by title",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/v1/kb"
		if query != "" {
			path += "?q=" + url.QueryEscape(query)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var articles []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			TLDR     string `json:"tldr"`
			Category string `json:"category"`
		}
		if err := decodeJSON(resp, &articles); err != nil {
			return err
		}

		if len(articles) == 0 {
			fmt.Println("No articles found.")
			return nil
		}

		for _, a := range articles {
			fmt.Printf("%s  %s\n", colorize(colorCyan, a.ID), colorize(colorBold, a.Title))
			if a.TLDR != "" {
				fmt.Printf("    %s\n", a.TLDR)
			}
		}
		return nil
	},
}

var kbShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/kb/"+args[0])
		if err != nil {
			return err
		}

		var article struct {
			Title     string   `json:"title"`
			TLDR      string   `json:"tldr"`
			Tags      []string `json:"tags"`
			ContentMD string   `json:"contentMd"`
		}
		if err := decodeJSON(resp, &article); err != nil {
			return err
		}

		fmt.Println(colorize(colorBold, article.Title))
		if len(article.Tags) > 0 {
			fmt.Printf("Tags: %s\n", strings.Join(article.Tags, ", "))
		}
		fmt.Println()
		fmt.Println(article.ContentMD)
		return nil
	},
}

var kbImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an article from text, a file, or a URL",
	Long: `Import an article into the knowledge base.

Examples:
  shopmate kb import --title "Повернення товару" --text "..."
  shopmate kb import --title "Інструкція" --file ./manual.pdf
  shopmate kb import --url https://example.com/article`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		srcURL, _ := cmd.Flags().GetString("url")
		title, _ := cmd.Flags().GetString("title")
		tagsStr, _ := cmd.Flags().GetString("tags")
		category, _ := cmd.Flags().GetString("category")

		if text == "" && file == "" && srcURL == "" {
			return fmt.Errorf("one of --text, --file, or --url is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var resp *http.Response

		// PDF files go up as a raw upload; the daemon extracts the text.
		if file != "" && strings.EqualFold(filepath.Ext(file), ".pdf") {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if title == "" {
				title = file
			}
			q := url.Values{"title": {title}}
			if category != "" {
				q.Set("category", category)
			}
			if tagsStr != "" {
				q.Set("tags", tagsStr)
			}
			resp, err = client.postRaw(cmd.Context(), "/v1/kb/import/pdf?"+q.Encode(), "application/pdf", bytes.NewReader(data))
			if err != nil {
				return err
			}
		} else {
			var tags []string
			if tagsStr != "" {
				tags = strings.Split(tagsStr, ",")
				for i := range tags {
					tags[i] = strings.TrimSpace(tags[i])
				}
			}

			req := map[string]any{}
			if tags != nil {
				req["tags"] = tags
			}
			if category != "" {
				req["category"] = category
			}

			switch {
			case text != "":
				req["content"] = text
			case file != "":
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("reading file: %w", err)
				}
				req["content"] = string(data)
				if title == "" {
					title = file
				}
			case srcURL != "":
				req["url"] = srcURL
			}
			req["title"] = title

			resp, err = client.post(cmd.Context(), "/v1/kb/import", req)
			if err != nil {
				return err
			}
		}

		var result struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %s (%s)", result.Title, result.ID)
		return nil
	},
}

func init() {
	kbImportCmd.Flags().String("text", "", "article text to import")
	kbImportCmd.Flags().String("file", "", "PDF file path to import")
	kbImportCmd.Flags().String("url", "", "web page URL to import")
	kbImportCmd.Flags().String("title", "", "title for the article")
	kbImportCmd.Flags().String("tags", "", "comma-separated tags")
	kbImportCmd.Flags().String("category", "", "article category")

	kbCmd.AddCommand(kbSearchCmd)
	kbCmd.AddCommand(kbShowCmd)
	kbCmd.AddCommand(kbImportCmd)
}

// --- checklists ---

var checklistsCmd = &cobra.Command{
	Use:   "checklists [id]",
	Short: "List shift checklists or show one with its steps",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), "/v1/checklists")
			if err != nil {
				return err
			}

			var checklists []struct {
				ID          string `json:"id"`
				Title       string `json:"title"`
				Description string `json:"description"`
			}
			if err := decodeJSON(resp, &checklists); err != nil {
				return err
			}

			for _, c := range checklists {
				fmt.Printf("%s  %s\n", colorize(colorCyan, c.ID), colorize(colorBold, c.Title))
				if c.Description != "" {
					fmt.Printf("    %s\n", c.Description)
				}
			}
			return nil
		}

		resp, err := client.get(cmd.Context(), "/v1/checklists/"+args[0])
		if err != nil {
			return err
		}

		var checklist struct {
			Title string `json:"title"`
			Items []struct {
				Text       string `json:"text"`
				HelperLink string `json:"helperLink"`
			} `json:"items"`
		}
		if err := decodeJSON(resp, &checklist); err != nil {
			return err
		}

		fmt.Println(colorize(colorBold, checklist.Title))
		for i, item := range checklist.Items {
			fmt.Printf("  %2d. %s\n", i+1, item.Text)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
