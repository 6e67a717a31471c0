package main

import "gopkg.in/ini.v1"

// Config is the demo's handful of knobs, loaded the way
// server/conf.Config is in the zhukovaskychina-xmysql-server pack
// repo: a typed struct populated from an ini.File section, with
// defaults applied when the file or key is absent.
type Config struct {
	DataDir    string
	PoolFrames int
	TableName  string
}

func loadConfig(path string) (Config, error) {
	cfg := Config{
		DataDir:    "./minidb-data",
		PoolFrames: 16,
		TableName:  "demo",
	}
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return cfg, err
	}
	sec := f.Section("storage")
	cfg.DataDir = sec.Key("data_dir").MustString(cfg.DataDir)
	cfg.PoolFrames = sec.Key("pool_frames").MustInt(cfg.PoolFrames)
	cfg.TableName = sec.Key("table_name").MustString(cfg.TableName)
	return cfg, nil
}
