package learning

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-matchmaking/internal/common/logger"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/compat"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/config"
	"github.com/imadgeboyega/kiekky-matchmaking/internal/profile"
)

func testConfig() config.MLConfig {
	cfg := config.DefaultMLConfig()
	cfg.MinSamples = 20
	cfg.PerClassCap = 20
	cfg.RetrainEvery = 3
	cfg.Epochs = 5
	cfg.BatchSize = 8
	cfg.LearningRate = 0.01
	return cfg
}

func coord(v float64) *float64 { return &v }

// community returns users that all accept each other, spread over
// compatible and incompatible attributes
func community(n int) []*profile.UserProfile {
	interests := [][]string{
		{"hiking", "music", "travel"},
		{"hiking", "music", "cooking"},
		{"gaming", "anime"},
		{"chess"},
	}
	signs := []string{"aries", "leo", "taurus", "cancer"}

	users := make([]*profile.UserProfile, 0, n)
	for i := 0; i < n; i++ {
		gender := "female"
		if i%2 == 1 {
			gender = "male"
		}
		users = append(users, &profile.UserProfile{
			ID:               int64(i + 1),
			Age:              22 + (i%4)*6,
			Gender:           gender,
			GenderPreference: "both",
			Latitude:         coord(6.5 + float64(i%4)*0.3),
			Longitude:        coord(3.3),
			Interests:        interests[i%4],
			Education:        []string{"bachelor", "master"}[i%2],
			ZodiacSign:       signs[i%4],
			Bio:              fmt.Sprintf("I love %s", interests[i%4][0]),
		})
	}
	return users
}

// labelledSamples returns n positives with strong features and n negatives with weak ones
func labelledSamples(n int) []*TrainingSample {
	rng := rand.New(rand.NewSource(3))
	var out []*TrainingSample
	for i := 0; i < 2*n; i++ {
		positive := i%2 == 0
		base := 0.15
		if positive {
			base = 0.8
		}
		f := compat.FeatureVector{}
		for _, v := range []*float64{&f.Distance, &f.Age, &f.InterestOverlap, &f.Zodiac, &f.InterestCosine, &f.InterestRatio, &f.Bio} {
			*v = base + rng.Float64()*0.15
		}
		f.Gender = 1
		f.Aggregate = base + 0.1
		out = append(out, &TrainingSample{
			SubjectID:          int64(i + 1),
			TargetID:           int64(1000 + i),
			FeatureVector:      f,
			WasSuccessfulMatch: positive,
			MatchScore:         f.Aggregate,
			Source:             SourceSynthetic,
		})
	}
	return out
}

func seedSamples(t *testing.T, repo SampleRepository, samples []*TrainingSample) {
	t.Helper()
	for _, s := range samples {
		ok, err := repo.Insert(context.Background(), s)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

type fixture struct {
	cfg       config.MLConfig
	users     *profile.MemoryRepository
	samples   SampleRepository
	store     ModelStore
	predictor *Predictor
	data      *DataManager
	trainer   *Trainer
}

func newFixture(cfg config.MLConfig, users ...*profile.UserProfile) *fixture {
	log := logger.NewNop()
	f := &fixture{
		cfg:     cfg,
		users:   profile.NewMemoryRepository(users...),
		samples: NewMemorySampleRepository(),
		store:   NewMemoryModelStore(cfg.ModelName, nil),
	}
	f.predictor = NewPredictor(f.store, log)
	f.data = NewDataManager(f.users, f.samples, cfg, rand.New(rand.NewSource(cfg.Seed)), log)
	f.trainer = NewTrainer(f.samples, f.data, f.store, f.predictor, cfg, log)
	return f
}
