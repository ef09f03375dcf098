package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/drug-speak/internal/catalog"
	"github.com/drug-speak/internal/domain"
	"github.com/drug-speak/internal/learner"
)

var errQuit = errors.New("quit")

const usage = `commands:
  signup <username> <email> <password> <male|female>
  signin <email> <password>
  signout
  profile [username=<name>] [gender=<male|female>] [password=<pw>]
  categories
  drugs [category]
  drug <id>
  learn <id>            start learning a drug
  stop <id>             stop learning a drug
  practice <id> <score> record a pronunciation score
  finish <id>           mark finished and sync now
  relearn <id>          move a finished drug back to learning
  drop <id>             remove a finished drug
  status                local progress and last synced record
  sync                  push progress now
  leaderboard [n]
  rank
  help
  quit`

// shell executes one command line at a time against a learner session
type shell struct {
	learner *learner.Learner
	catalog *catalog.Catalog
	session *fileSession
	out     io.Writer
}

// persist writes the signed-in user's progress to the session file
func (s *shell) persist() error {
	user := s.learner.User()
	if user == nil || s.session == nil {
		return nil
	}
	return s.session.remember(user, s.learner.Progress().Snapshot())
}

func (s *shell) exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "help", "?":
		fmt.Fprintln(s.out, usage)
		return nil
	case "quit", "exit":
		return errQuit
	case "signup":
		return s.signUp(ctx, args)
	case "signin":
		return s.signIn(ctx, args)
	case "signout":
		if err := s.learner.SignOut(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "signed out")
		return nil
	case "profile":
		return s.profile(ctx, args)
	case "categories":
		return s.categories()
	case "drugs":
		return s.drugs(args)
	case "drug":
		return s.drug(args)
	case "learn", "stop", "relearn", "drop", "finish":
		return s.mutate(ctx, cmd, args)
	case "practice":
		return s.practice(args)
	case "status":
		return s.status()
	case "sync":
		return s.sync(ctx)
	case "leaderboard":
		return s.leaderboard(ctx, args)
	case "rank":
		return s.rank(ctx)
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func (s *shell) requireArgs(args []string, n int, form string) error {
	if len(args) != n {
		return fmt.Errorf("usage: %s", form)
	}
	return nil
}

func (s *shell) signUp(ctx context.Context, args []string) error {
	if err := s.requireArgs(args, 4, "signup <username> <email> <password> <male|female>"); err != nil {
		return err
	}
	user, err := s.learner.SignUp(ctx, domain.SignUpRequest{
		Username: args[0],
		Email:    args[1],
		Password: args[2],
		Gender:   strings.ToLower(args[3]),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "welcome, %s\n", user.Username)
	return s.persist()
}

func (s *shell) signIn(ctx context.Context, args []string) error {
	if err := s.requireArgs(args, 2, "signin <email> <password>"); err != nil {
		return err
	}
	user, err := s.learner.SignIn(ctx, domain.Credentials{Email: args[0], Password: args[1]})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "signed in as %s\n", user.Username)
	if _, err := s.learner.LoadMyRecord(ctx); err != nil && !errors.Is(err, domain.ErrRecordNotFound) {
		fmt.Fprintf(s.out, "could not load study record: %v\n", err)
	}
	return s.persist()
}

func (s *shell) profile(ctx context.Context, args []string) error {
	var update domain.ProfileUpdate
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("profile: expected key=value, got %q", arg)
		}
		switch key {
		case "username":
			update.Username = &value
		case "gender":
			g := strings.ToLower(value)
			update.Gender = &g
		case "password":
			update.Password = &value
		default:
			return fmt.Errorf("profile: unknown field %q", key)
		}
	}
	if update.Username == nil && update.Gender == nil && update.Password == nil {
		user := s.learner.User()
		if user == nil {
			return domain.ErrUnauthorized
		}
		fmt.Fprintf(s.out, "%s <%s> %s\n", user.Username, user.Email, user.Gender)
		return nil
	}
	user, err := s.learner.UpdateProfile(ctx, update)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "profile updated: %s %s\n", user.Username, user.Gender)
	return s.persist()
}

func (s *shell) categories() error {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDRUGS")
	for _, c := range s.catalog.Categories() {
		drugs, _ := s.catalog.ByCategory(c.ID)
		fmt.Fprintf(tw, "%s\t%s\t%d\n", c.ID, c.Name, len(drugs))
	}
	return tw.Flush()
}

func (s *shell) drugs(args []string) error {
	drugs := s.catalog.Drugs()
	if len(args) > 0 {
		var err error
		if drugs, err = s.catalog.ByCategory(args[0]); err != nil {
			return err
		}
	}

	progress := s.learner.Progress()
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tBEST")
	for _, d := range drugs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", d.ID, d.Name, progress.State(d.ID), progress.Score(d.ID))
	}
	return tw.Flush()
}

func (s *shell) drug(args []string) error {
	if err := s.requireArgs(args, 1, "drug <id>"); err != nil {
		return err
	}
	d, err := s.catalog.Drug(domain.DrugID(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s (%s)\n", d.Name, d.ID)
	if len(d.OtherNames) > 0 {
		fmt.Fprintf(s.out, "  also known as: %s\n", strings.Join(d.OtherNames, ", "))
	}
	if d.MolecularFormula != "" {
		fmt.Fprintf(s.out, "  formula: %s\n", d.MolecularFormula)
	}
	fmt.Fprintf(s.out, "  categories: %s\n", strings.Join(s.catalog.CategoryNames(d), ", "))
	fmt.Fprintf(s.out, "  %s\n", d.Desc)
	for _, snd := range d.Sounds {
		fmt.Fprintf(s.out, "  sound: %s (%s)\n", snd.File, snd.Gender)
	}
	p := s.learner.Progress()
	fmt.Fprintf(s.out, "  state: %s, best score: %d\n", p.State(d.ID), p.Score(d.ID))
	return nil
}

// lookup resolves a drug id argument against the catalog
func (s *shell) lookup(args []string, form string) (catalog.Drug, error) {
	if err := s.requireArgs(args, 1, form); err != nil {
		return catalog.Drug{}, err
	}
	return s.catalog.Drug(domain.DrugID(args[0]))
}

func (s *shell) mutate(ctx context.Context, cmd string, args []string) error {
	d, err := s.lookup(args, cmd+" <id>")
	if err != nil {
		return err
	}
	p := s.learner.Progress()

	switch cmd {
	case "learn":
		s.learner.StartLearning(d.ID)
	case "stop":
		s.learner.StopLearning(d.ID)
	case "relearn":
		if !p.IsFinished(d.ID) {
			return fmt.Errorf("%s is not finished", d.Name)
		}
		s.learner.Relearn(d.ID)
	case "drop":
		if !p.IsFinished(d.ID) {
			return fmt.Errorf("%s is not finished", d.Name)
		}
		s.learner.RemoveFinished(d.ID)
	case "finish":
		if !p.IsCurrent(d.ID) {
			return fmt.Errorf("%s is not being learned", d.Name)
		}
		record, err := s.learner.Finish(ctx, d.ID)
		if err != nil {
			fmt.Fprintf(s.out, "%s finished locally, sync failed: %v\n", d.Name, err)
			return s.persist()
		}
		if record != nil {
			fmt.Fprintf(s.out, "%s finished, total score %d\n", d.Name, record.TotalScore)
		} else {
			fmt.Fprintf(s.out, "%s finished (not signed in, not synced)\n", d.Name)
		}
		return s.persist()
	}

	fmt.Fprintf(s.out, "%s: %s\n", d.Name, p.State(d.ID))
	return s.persist()
}

func (s *shell) practice(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: practice <id> <score>")
	}
	d, err := s.catalog.Drug(domain.DrugID(args[0]))
	if err != nil {
		return err
	}
	score, err := strconv.Atoi(args[1])
	if err != nil || score < 0 {
		return fmt.Errorf("score must be a non-negative integer, got %q", args[1])
	}
	if s.learner.RecordPractice(d.ID, score) {
		fmt.Fprintf(s.out, "new best for %s: %d\n", d.Name, score)
	} else {
		fmt.Fprintf(s.out, "best for %s stays %d\n", d.Name, s.learner.Progress().Score(d.ID))
	}
	return s.persist()
}

func (s *shell) status() error {
	p := s.learner.Progress()
	if user := s.learner.User(); user != nil {
		fmt.Fprintf(s.out, "signed in as %s\n", user.Username)
	} else {
		fmt.Fprintln(s.out, "not signed in")
	}
	summary := p.Summary()
	fmt.Fprintf(s.out, "learning %d, finished %d, total score %d\n",
		summary.CurrentLearning, summary.FinishedLearning, summary.TotalScore)
	if rec := s.learner.MyRecord(); rec != nil {
		fmt.Fprintf(s.out, "last synced: learning %d, finished %d, total score %d\n",
			rec.CurrentLearning, rec.FinishedLearning, rec.TotalScore)
	}
	return nil
}

func (s *shell) sync(ctx context.Context) error {
	record, err := s.learner.Sync(ctx)
	if err != nil {
		return err
	}
	if record == nil {
		return domain.ErrUnauthorized
	}
	fmt.Fprintf(s.out, "synced, total score %d\n", record.TotalScore)
	return nil
}

func (s *shell) leaderboard(ctx context.Context, args []string) error {
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("leaderboard: invalid size %q", args[0])
		}
		limit = n
	}
	ranked, err := s.learner.RefreshLeaderboard(ctx)
	if err != nil {
		return err
	}

	me, _ := s.learner.UserID()
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tUSER\tSCORE\tFINISHED\tLEARNING\t")
	for _, e := range domain.Entries(ranked, limit) {
		marker := ""
		if e.Record.UserID == me {
			marker = "<- you"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%s\n", e.Rank, e.Record.Username(),
			e.Record.TotalScore, e.Record.FinishedLearning, e.Record.CurrentLearning, marker)
	}
	return tw.Flush()
}

func (s *shell) rank(ctx context.Context) error {
	if _, ok := s.learner.UserID(); !ok {
		return domain.ErrUnauthorized
	}
	if _, err := s.learner.RefreshLeaderboard(ctx); err != nil {
		return err
	}
	rank, ok := s.learner.MyRank()
	if !ok {
		fmt.Fprintln(s.out, "no study record yet")
		return nil
	}
	fmt.Fprintf(s.out, "you are #%d of %d\n", rank, len(s.learner.Leaderboard()))
	return nil
}
