package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/board"
	"faculty-status-backend/internal/model"
	"faculty-status-backend/internal/portal"
	"faculty-status-backend/internal/session"
	"faculty-status-backend/internal/statusfeed"
	"faculty-status-backend/internal/ws"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// reporter publishes status reports to the status feed.
type reporter interface {
	Publish(cabinID string, status model.Status) error
	Close()
}

type commandLine struct {
	out     io.Writer
	storage session.Storage
	portal  portal.Client
	api     *apiClient
	feed    config.StatusFeedConfig
	connect func(config.StatusFeedConfig) (reporter, error)
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -username USERNAME [-semester ID] - log in to VTOP, the password is prompted next")
	fmt.Fprintln(cli.out, "  logout - forget the stored credentials")
	fmt.Fprintln(cli.out, "  semester [-id ID] - list semesters, or switch the faculty list to semester ID")
	fmt.Fprintln(cli.out, "  status [-mine] [-q TEXT] [-status ALL|AVAILABLE|BUSY|UNKNOWN] [-page N] - show the board")
	fmt.Fprintln(cli.out, "  watch -cabin CABIN [-cabin CABIN...] - wait until the faculty become available")
	fmt.Fprintln(cli.out, "  report -cabin CABIN -status AVAILABLE|BUSY - publish a status report")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "login":
		return cli.login(ctx, args[2:])
	case "logout":
		if err := session.Open(cli.storage, cli.portal).Logout(); err != nil {
			return err
		}
		fmt.Fprintln(cli.out, "Logged out.")
		return nil
	case "semester":
		return cli.semester(ctx, args[2:])
	case "status":
		return cli.status(ctx, args[2:])
	case "watch":
		return cli.watch(ctx, args[2:])
	case "report":
		return cli.report(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) login(ctx context.Context, args []string) error {
	cmd := flag.NewFlagSet("login", flag.ContinueOnError)
	cmd.SetOutput(cli.out)
	username := cmd.String("username", "", "The VTOP username. The password will be prompted next.")
	semester := cmd.String("semester", "", "Optional semester id for the faculty list.")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		cmd.Usage()
		return errHelp
	}

	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return err
	}
	if len(pwd) == 0 {
		cmd.Usage()
		return errHelp
	}

	sess := session.Open(cli.storage, cli.portal)
	if err := sess.Login(ctx, session.Credentials{Username: *username, Password: string(pwd)}); err != nil {
		return describePortalError(err)
	}
	if *semester != "" {
		if err := sess.ChangeSemester(ctx, *semester); err != nil {
			return describePortalError(err)
		}
	}

	st := sess.State()
	fmt.Fprintf(cli.out, "Logged in as %s: %d faculty, %d semesters.\n", *username, len(st.Faculty), len(st.Semesters))
	return nil
}

func (cli *commandLine) semester(ctx context.Context, args []string) error {
	cmd := flag.NewFlagSet("semester", flag.ContinueOnError)
	cmd.SetOutput(cli.out)
	id := cmd.String("id", "", "The semester to load the faculty list for.")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	sess := session.Open(cli.storage, cli.portal)
	if !sess.LoggedIn() {
		return session.ErrNotLoggedIn
	}
	if *id == "" {
		for _, s := range sess.State().Semesters {
			fmt.Fprintf(cli.out, "%s\t%s\n", s.ID, s.Name)
		}
		return nil
	}

	if err := sess.ChangeSemester(ctx, *id); err != nil {
		return describePortalError(err)
	}
	for _, f := range sess.State().Faculty {
		fmt.Fprintf(cli.out, "%s\t%s\n", f.CabinID, f.Name)
	}
	return nil
}

func (cli *commandLine) status(ctx context.Context, args []string) error {
	cmd := flag.NewFlagSet("status", flag.ContinueOnError)
	cmd.SetOutput(cli.out)
	mine := cmd.Bool("mine", false, "Only show the faculty from the stored timetable.")
	search := cmd.String("q", "", "Case-insensitive search on name or cabin.")
	filter := cmd.String("status", "", "Status filter.")
	page := cmd.Int("page", 1, "Page number, starting at 1.")
	if err := cmd.Parse(args); err != nil {
		return err
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(*page))
	if *search != "" {
		query.Set("q", *search)
	}
	if *filter != "" {
		query.Set("status", *filter)
	}

	if *mine {
		sess := session.Open(cli.storage, cli.portal)
		if !sess.LoggedIn() {
			return session.ErrNotLoggedIn
		}
		if err := sess.Refresh(ctx); err != nil {
			if portal.IsAuthFailure(err) {
				return fmt.Errorf("stored credentials were refused, please log in again: %w", err)
			}
			log.Printf("Warning: using cached faculty list: %v", err)
		}

		id, err := cli.api.createSession(ctx)
		if err != nil {
			return err
		}
		defer cli.endSession(id)
		if err := cli.api.putFaculty(ctx, id, sess.State().Faculty); err != nil {
			return err
		}
		query.Set("tab", string(board.TabMy))
		query.Set("session", id)
	}

	p, err := cli.api.faculty(ctx, query)
	if err != nil {
		return err
	}
	for _, card := range p.Cards {
		fmt.Fprintln(cli.out, formatCard(card))
	}
	fmt.Fprintf(cli.out, "page %d/%d (%d faculty)\n", p.Number, max(p.TotalPages, 1), p.Total)
	return nil
}

func (cli *commandLine) watch(ctx context.Context, args []string) error {
	cmd := flag.NewFlagSet("watch", flag.ContinueOnError)
	cmd.SetOutput(cli.out)
	var cabins []string
	cmd.Func("cabin", "A cabin to wait for. May be repeated.", func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("cabin must not be empty")
		}
		cabins = append(cabins, strings.TrimSpace(s))
		return nil
	})
	if err := cmd.Parse(args); err != nil {
		return err
	}
	if len(cabins) == 0 {
		cmd.Usage()
		return errHelp
	}

	id, err := cli.api.createSession(ctx)
	if err != nil {
		return err
	}
	defer cli.endSession(id)

	if st := session.Load(cli.storage); len(st.Faculty) > 0 {
		if err := cli.api.putFaculty(ctx, id, st.Faculty); err != nil {
			log.Printf("Warning: could not share faculty list: %v", err)
		}
	}

	conn, err := cli.api.stream(ctx, id)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	pending := make(map[string]bool, len(cabins))
	for _, cabin := range cabins {
		if err := cli.api.subscribe(ctx, id, cabin); err != nil {
			fmt.Fprintf(cli.out, "Failed to subscribe to %s: %v\n", cabin, err)
			continue
		}
		pending[cabin] = true
		fmt.Fprintf(cli.out, "Waiting for %s...\n", cabin)
	}
	if len(pending) == 0 {
		return errors.New("no subscription succeeded")
	}

	for len(pending) > 0 {
		var msg ws.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("server closed the stream")
			}
			return fmt.Errorf("stream: %w", err)
		}
		if msg.Type != ws.TypeNotification || msg.Notification == nil {
			continue
		}
		ev := msg.Notification
		fmt.Fprintf(cli.out, "%s %s\n", ev.Title, ev.Body)
		delete(pending, ev.CabinID)
	}
	return nil
}

func (cli *commandLine) report(args []string) error {
	cmd := flag.NewFlagSet("report", flag.ContinueOnError)
	cmd.SetOutput(cli.out)
	cabin := cmd.String("cabin", "", "The cabin to report for.")
	status := cmd.String("status", "", "AVAILABLE or BUSY.")
	if err := cmd.Parse(args); err != nil {
		return err
	}
	s := model.Status(strings.ToUpper(*status))
	if *cabin == "" || !s.Valid() {
		cmd.Usage()
		return errHelp
	}
	if cli.feed.Broker == "" {
		return errors.New("status_feed.broker is not configured")
	}

	pub, err := cli.connect(cli.feed)
	if err != nil {
		return err
	}
	defer pub.Close()
	if err := pub.Publish(*cabin, s); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Reported %s as %s.\n", *cabin, s)
	return nil
}

func (cli *commandLine) endSession(id string) {
	if err := cli.api.deleteSession(context.Background(), id); err != nil {
		log.Printf("Warning: could not end session %s: %v", id, err)
	}
}

func formatCard(c board.Card) string {
	status := string(c.Status)
	if status == "" {
		status = "UNKNOWN"
	}
	line := fmt.Sprintf("%-10s %-30s %-9s waiting:%d", c.CabinID, c.Name, status, c.WaitCount)
	if c.Subscribed {
		line += " (subscribed)"
	}
	return line
}

func describePortalError(err error) error {
	var auth *portal.AuthError
	if errors.As(err, &auth) {
		if auth.Details != "" {
			return fmt.Errorf("%s: %s", auth.Message, auth.Details)
		}
		return errors.New(auth.Message)
	}
	if errors.Is(err, portal.ErrDisabled) {
		return errors.New("no VTOP fetcher is configured, set portal.api_url or portal.executable")
	}
	return err
}

func newReporter(cfg config.StatusFeedConfig) (reporter, error) {
	return statusfeed.Connect(cfg)
}
