// Package main provides the duet command line client.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/duet/internal/api/connect"
)

var (
	app    = kingpin.New("duetctl", "duet collaborative DJ client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set DUET_ADMIN_TOKEN env)").Envar("DUET_ADMIN_TOKEN").String()

	statusCmd = app.Command("status", "Get session status")

	startCmd = app.Command("ai-starts", "Let the DJ pick the opening song")

	pickCmd   = app.Command("pick", "Queue your pick")
	pickTrack = pickCmd.Arg("track", "Track ID, URI or URL").Required().String()

	searchCmd   = app.Command("search", "Search the catalog")
	searchQuery = searchCmd.Arg("query", "Search words").Required().Strings()

	skipCmd = app.Command("skip", "Skip the current song")

	skipToCmd  = app.Command("skip-to", "Skip to a queued song")
	skipToSong = skipToCmd.Arg("song-id", "Queued song ID").Required().String()

	directionsCmd = app.Command("directions", "Ask the DJ for direction changes")

	applyCmd   = app.Command("apply-direction", "Apply an offered direction change")
	applyIndex = applyCmd.Arg("index", "Option number from the directions command").Required().Int()

	watchCmd = app.Command("watch", "Stream session notices")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or DUET_ADMIN_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = status(ctx, client)
	case startCmd.FullCommand():
		err = aiStarts(ctx, client)
	case pickCmd.FullCommand():
		err = pick(ctx, client, *pickTrack)
	case searchCmd.FullCommand():
		err = search(ctx, client, strings.Join(*searchQuery, " "))
	case skipCmd.FullCommand():
		err = skip(ctx, client)
	case skipToCmd.FullCommand():
		err = skipTo(ctx, client, *skipToSong)
	case directionsCmd.FullCommand():
		err = directions(ctx, client)
	case applyCmd.FullCommand():
		err = applyDirection(ctx, client, *applyIndex-1)
	case watchCmd.FullCommand():
		err = watch(ctx, client)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func status(ctx context.Context, client *apiconnect.Client) error {
	s, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}

	fmt.Println("\n=== CURRENT SESSION STATUS ===")
	fmt.Printf("Session ID: %s\n", s.SessionID)
	fmt.Printf("DJ: %s (%s)\n", s.PersonaName, s.PersonaID)
	fmt.Printf("Phase: %s\n", s.Phase)
	fmt.Printf("Playback: %s\n", s.Playback)
	fmt.Printf("Turn: %s\n", s.Turn)
	if s.Thinking {
		fmt.Println("The DJ is thinking...")
	}
	if s.PlaylistURL != "" {
		fmt.Printf("Playlist: %s\n", s.PlaylistURL)
	}
	if s.Direction != nil {
		fmt.Printf("Direction: %s\n", s.Direction.Label)
	}

	if s.NowPlaying != nil {
		fmt.Println("\nNow Playing:")
		printSong(*s.NowPlaying)
	} else {
		fmt.Println("\nNothing playing")
	}

	fmt.Printf("\nQueue (%d):\n", len(s.Queue))
	for i, q := range s.Queue {
		fmt.Printf("  %d. [%s] %s - %s (%s, by %s)\n", i+1, q.ID, strings.Join(q.Track.Artists, ", "), q.Track.Name, q.Status, q.SelectedBy)
	}

	if len(s.History) > 0 {
		fmt.Printf("\nRecently Played (%d):\n", len(s.History))
		for _, h := range s.History {
			fmt.Printf("  %s - %s (by %s)\n", strings.Join(h.Track.Artists, ", "), h.Track.Name, h.SelectedBy)
		}
	}
	fmt.Println()
	return nil
}

func aiStarts(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.AIStarts(ctx)
	if err != nil {
		return err
	}
	if resp.Song != nil {
		printSong(*resp.Song)
	}
	fmt.Println(resp.Message)
	return nil
}

func pick(ctx context.Context, client *apiconnect.Client, trackID string) error {
	resp, err := client.QueueUserPick(ctx, trackID)
	if err != nil {
		return err
	}
	if !resp.Accepted {
		fmt.Printf("Rejected (%s): %s\n", resp.Code, resp.Message)
		return nil
	}
	if resp.Song != nil {
		printSong(*resp.Song)
	}
	fmt.Println(resp.Message)
	return nil
}

func search(ctx context.Context, client *apiconnect.Client, query string) error {
	resp, err := client.SearchTracks(ctx, query)
	if err != nil {
		return err
	}
	fmt.Printf("Results (%d):\n", len(resp.Tracks))
	for i, t := range resp.Tracks {
		fmt.Printf("  %2d. %s - %s [%s]\n", i+1, strings.Join(t.Artists, ", "), t.Name, t.ID)
	}
	return nil
}

func skip(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.Skip(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Skipped. Now playing:")
	printSong(resp.Song)
	return nil
}

func skipTo(ctx context.Context, client *apiconnect.Client, songID string) error {
	resp, err := client.SkipTo(ctx, songID)
	if err != nil {
		return err
	}
	fmt.Println("Skipped. Now playing:")
	printSong(resp.Song)
	return nil
}

func directions(ctx context.Context, client *apiconnect.Client) error {
	resp, err := client.RequestDirectionChange(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Direction options:")
	for i, o := range resp.Options {
		fmt.Printf("  %d. %s\n     %s\n", i+1, o.Label, o.Prompt)
	}
	return nil
}

func applyDirection(ctx context.Context, client *apiconnect.Client, index int) error {
	resp, err := client.ApplyDirection(ctx, index)
	if err != nil {
		return err
	}
	fmt.Printf("Direction applied: %s\n", resp.Applied.Label)
	return nil
}

func watch(ctx context.Context, client *apiconnect.Client) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := client.WatchNotices(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Println("Watching notices. Press Ctrl+C to exit.")
	for stream.Receive() {
		n := stream.Msg()
		fmt.Printf("[%d %s] %s: %s\n", n.SequenceNo, n.At.Format("15:04:05"), n.Severity, n.Message)
	}
	if ctx.Err() != nil {
		return nil
	}
	return stream.Err()
}

func printSong(s apiconnect.SongInfo) {
	fmt.Printf("  Song ID: %s\n", s.ID)
	fmt.Printf("  Name: %s\n", s.Track.Name)
	fmt.Printf("  Artists: %s\n", strings.Join(s.Track.Artists, ", "))
	fmt.Printf("  URL: %s\n", s.Track.URL)
	fmt.Printf("  Picked by: %s\n", s.SelectedBy)
	if s.Rationale != "" {
		fmt.Printf("  Why: %s\n", s.Rationale)
	}
}
