package main

import (
	"context"
	"flag"
	"strconv"
	"time"

	"github.com/mansoorceksport/fitsync/internal/config"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/repository"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type seedWorkout struct {
	Title     string
	Type      domain.WorkoutType
	Duration  int
	Calories  int
	Exercises []domain.ExerciseInput
}

var workouts = []seedWorkout{
	{Title: "Easy run", Type: domain.WorkoutRun, Duration: 30, Calories: 280},
	{Title: "Tempo run", Type: domain.WorkoutRun, Duration: 45, Calories: 520},
	{Title: "Hill repeats", Type: domain.WorkoutRun, Duration: 50, Calories: 610, Exercises: []domain.ExerciseInput{
		{Name: "Hill sprint", Sets: "8", Reps: "1"},
	}},
	{Title: "Commute ride", Type: domain.WorkoutCycling, Duration: 25, Calories: 210},
	{Title: "Long ride", Type: domain.WorkoutCycling, Duration: 120, Calories: 1400},
	{Title: "Leg day", Type: domain.WorkoutWeights, Duration: 60, Calories: 450, Exercises: []domain.ExerciseInput{
		{Name: "Barbell Squat", Sets: "5", Reps: "5", Weight: "100"},
		{Name: "Romanian Deadlift", Sets: "3", Reps: "8", Weight: "80"},
		{Name: "Walking Lunge", Sets: "3", Reps: "12", Weight: "20"},
		{Name: "Calf Raise", Sets: "4", Reps: "15"},
	}},
	{Title: "Push day", Type: domain.WorkoutWeights, Duration: 55, Calories: 380, Exercises: []domain.ExerciseInput{
		{Name: "Barbell Bench Press", Sets: "5", Reps: "5", Weight: "70"},
		{Name: "Incline Dumbbell Press", Sets: "3", Reps: "10", Weight: "24"},
		{Name: "Dips", Sets: "3", Reps: "12"},
	}},
	{Title: "Pull day", Type: domain.WorkoutWeights, Duration: 55, Calories: 370, Exercises: []domain.ExerciseInput{
		{Name: "Pull Up", Sets: "4", Reps: "8"},
		{Name: "Barbell Row", Sets: "4", Reps: "8", Weight: "60"},
		{Name: "Face Pull", Sets: "3", Reps: "15", Weight: "15"},
	}},
	{Title: "Morning flow", Type: domain.WorkoutYoga, Duration: 30, Calories: 120},
	{Title: "Pool intervals", Type: domain.WorkoutSwimming, Duration: 40, Calories: 400},
	{Title: "Climbing gym", Type: domain.WorkoutOther, Duration: 90, Calories: 650},
}

func main() {
	owner := flag.String("owner", "", "owner id (Firebase uid) to seed")
	days := flag.Int("days", 14, "spread workouts over this many past days")
	flag.Parse()
	if *owner == "" {
		log.Fatal("-owner is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var adapter domain.RemoteSyncAdapter
	switch cfg.Sync.Backend {
	case config.BackendMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
		if err != nil {
			log.WithError(err).Fatal("failed to connect to Mongo")
		}
		defer client.Disconnect(context.Background())
		mongoAdapter := repository.NewMongoWorkoutAdapter(client.Database(cfg.MongoDB.Database))
		if err := mongoAdapter.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("failed to ensure indexes")
		}
		adapter = mongoAdapter
	case config.BackendFirestore:
		app, err := middleware.InitFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.PrivateKey, cfg.Firebase.ClientEmail)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize Firebase")
		}
		fs, err := app.Firestore(ctx)
		if err != nil {
			log.WithError(err).Fatal("failed to open Firestore")
		}
		defer fs.Close()
		adapter = repository.NewFirestoreWorkoutAdapter(fs)
	default:
		log.Fatalf("seeding needs a persistent backend, SYNC_BACKEND is %q", cfg.Sync.Backend)
	}

	today := time.Now().UTC()
	seeded := 0
	for i, sw := range workouts {
		date := today.AddDate(0, 0, -(i % max(*days, 1))).Format(domain.DateLayout)
		w, err := domain.ValidateWorkout(domain.Candidate{
			Title:     sw.Title,
			Type:      string(sw.Type),
			Duration:  strconv.Itoa(sw.Duration),
			Calories:  strconv.Itoa(sw.Calories),
			Date:      date,
			Exercises: sw.Exercises,
		})
		if err != nil {
			log.WithError(err).WithField("title", sw.Title).Warn("skipping invalid seed workout")
			continue
		}
		payload, err := domain.ToPersistablePayload(*w)
		if err != nil {
			log.WithError(err).WithField("title", sw.Title).Warn("skipping unencodable seed workout")
			continue
		}
		id := adapter.NewID(*owner)
		if err := adapter.Create(ctx, *owner, id, payload); err != nil {
			log.WithError(err).WithField("title", sw.Title).Error("failed to insert workout")
			continue
		}
		log.WithFields(log.Fields{"id": id, "title": sw.Title, "date": date}).Debug("inserted workout")
		seeded++
	}

	log.WithFields(log.Fields{"owner": *owner, "count": seeded}).Info("seeding complete")
}
