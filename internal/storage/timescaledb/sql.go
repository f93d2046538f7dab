package timescaledb

const createExtensionSQL = `CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;`

const createPlantTableSQL = `
CREATE TABLE IF NOT EXISTS plant_readings (
    time timestamp WITH TIME ZONE NOT NULL,
    node text NOT NULL,
    plant smallint NOT NULL,
    ticks smallint NOT NULL,
    before_moisture smallint NOT NULL,
    after_moisture smallint NOT NULL,
    before_moisture_raw integer NOT NULL,
    after_moisture_raw integer NOT NULL
);`

const createWaterTableSQL = `
CREATE TABLE IF NOT EXISTS water_readings (
    time timestamp WITH TIME ZONE NOT NULL,
    node text NOT NULL,
    channel smallint NOT NULL,
    before_level smallint NOT NULL,
    after_level smallint NOT NULL,
    before_raw integer NOT NULL,
    after_raw integer NOT NULL
);`

const createAlertTableSQL = `
CREATE TABLE IF NOT EXISTS alerts (
    time timestamp WITH TIME ZONE NOT NULL,
    node text NOT NULL,
    tag smallint NOT NULL,
    text text NOT NULL
);`

const createPlantHypertableSQL = `SELECT create_hypertable('plant_readings', 'time', if_not_exists => TRUE);`
const createWaterHypertableSQL = `SELECT create_hypertable('water_readings', 'time', if_not_exists => TRUE);`
const createAlertHypertableSQL = `SELECT create_hypertable('alerts', 'time', if_not_exists => TRUE);`

// plant_moisture_1d keeps one row per plant and day for long term graphs.
const createDailyViewSQL = `
CREATE MATERIALIZED VIEW IF NOT EXISTS plant_moisture_1d
WITH (timescaledb.continuous) AS
SELECT
    time_bucket('1 day', time) AS bucket,
    node,
    plant,
    avg(before_moisture) FILTER (WHERE before_moisture < 255) AS avg_before,
    avg(after_moisture) FILTER (WHERE after_moisture < 255) AS avg_after,
    count(*) FILTER (WHERE ticks = 0) AS irrigations
FROM plant_readings
GROUP BY bucket, node, plant
WITH NO DATA;`

const addDailyPolicySQL = `
SELECT add_continuous_aggregate_policy('plant_moisture_1d',
    start_offset => INTERVAL '3 days',
    end_offset => INTERVAL '1 hour',
    schedule_interval => INTERVAL '1 hour',
    if_not_exists => TRUE);`
