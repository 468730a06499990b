package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"telesis/internal/migration"
	"telesis/pkg/telesis"
)

func defaultRunRequest() telesis.RunRequest {
	return telesis.RunRequest{
		RunID:                "demo",
		PopulationSize:       20,
		MaxGenerations:       50,
		MemoryLimitKB:        1024,
		InstantiationLimitUS: 500,
		CheckpointInterval:   5,
		AutonomyTarget:       0.8,
		TargetFitness:        85,
		Seed:                 42,
		Workers:              4,
	}
}

func loadRunRequest(path string) (telesis.RunRequest, error) {
	v, err := open(path)
	if err != nil {
		return telesis.RunRequest{}, err
	}

	req := defaultRunRequest()
	if v.IsSet("run_id") {
		req.RunID = v.GetString("run_id")
	}
	if v.IsSet("population_size") {
		req.PopulationSize = v.GetInt("population_size")
	}
	if v.IsSet("max_generations") {
		req.MaxGenerations = v.GetInt("max_generations")
	}
	if v.IsSet("memory_limit_kb") {
		req.MemoryLimitKB = v.GetFloat64("memory_limit_kb")
	}
	if v.IsSet("instantiation_limit_us") {
		req.InstantiationLimitUS = v.GetFloat64("instantiation_limit_us")
	}
	if v.IsSet("checkpoint_interval") {
		req.CheckpointInterval = v.GetInt("checkpoint_interval")
	}
	if v.IsSet("autonomy_target") {
		req.AutonomyTarget = v.GetFloat64("autonomy_target")
	}
	if v.IsSet("target_fitness") {
		req.TargetFitness = v.GetFloat64("target_fitness")
	}
	if v.IsSet("seed") {
		req.Seed = v.GetInt64("seed")
	}
	if v.IsSet("workers") {
		req.Workers = v.GetInt("workers")
	}
	return req, nil
}

func loadTaskDescriptors(path string) ([]migration.TaskDescriptor, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}

	var spec struct {
		Tasks []migration.TaskDescriptor `mapstructure:"tasks"`
	}
	if err := v.Unmarshal(&spec); err != nil {
		return nil, fmt.Errorf("decode task descriptors: %w", err)
	}
	if len(spec.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks declared in %s", path)
	}
	return spec.Tasks, nil
}

func loadAgentState(path string) (map[string]float64, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}

	state := map[string]float64{}
	for key := range v.AllSettings() {
		state[key] = v.GetFloat64(key)
	}
	return state, nil
}

func open(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext != "" {
		v.SetConfigType(ext)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return v, nil
}
