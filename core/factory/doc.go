// Package factory instantiates pluggable modules from configuration. A module
// is selected by its type string; its raw settings are decoded into a typed
// struct by the registered factory.
//
//	reg := factory.NewRegistry[metrics.MetricsSink]()
//	reg.Register("influx", func(conf map[string]any) (metrics.MetricsSink, error) {
//	    var c influxConf
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return newInflux(c)
//	})
package factory
